package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ventalink/salesbridge/internal/buildinfo"
	"github.com/ventalink/salesbridge/internal/config"
	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/engine"
	"github.com/ventalink/salesbridge/internal/middleware"
	"github.com/ventalink/salesbridge/internal/websocket"
)

// Router wraps the mux router with the engine and its collaborators
type Router struct {
	*mux.Router
	db     *database.DB
	engine *engine.Engine
	hub    *websocket.Hub
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(db *database.DB, eng *engine.Engine, hub *websocket.Hub, cfg *config.Config) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     db,
		engine: eng,
		hub:    hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// WebSocket endpoint for engine event streaming
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(hub, w, req)
	})

	auth := middleware.AuthMiddleware(cfg.JWTSecret)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth)

	NewEngineHandler(eng).RegisterRoutes(api)
	NewDomainHandler(eng.Router).RegisterRoutes(api)

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"server":     "local",
		"commit":     buildinfo.CommitHash,
		"built_at":   buildinfo.BuildTime,
		"started_at": buildinfo.StartTime,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
