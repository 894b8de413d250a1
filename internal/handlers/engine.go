package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/ventalink/salesbridge/internal/engine"
)

// EngineHandler exposes the durability engine's operator surface
type EngineHandler struct {
	engine *engine.Engine
}

// NewEngineHandler creates a new engine handler
func NewEngineHandler(eng *engine.Engine) *EngineHandler {
	return &EngineHandler{engine: eng}
}

// RegisterRoutes registers engine routes
func (eh *EngineHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/engine/status", eh.GetStatus).Methods("GET")
	r.HandleFunc("/engine/sync", eh.TriggerSync).Methods("POST")
	r.HandleFunc("/engine/backup", eh.TriggerBackup).Methods("POST")
	r.HandleFunc("/engine/restore", eh.TriggerRestore).Methods("POST")
	r.HandleFunc("/engine/queue", eh.GetQueue).Methods("GET")
	r.HandleFunc("/engine/catalog/refresh", eh.RefreshCatalog).Methods("POST")
}

// GetStatus returns the engine state
func (eh *EngineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, eh.engine.Status())
}

// TriggerSync runs one reconciler pass on demand
func (eh *EngineHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := eh.engine.TriggerSync(r.Context())
	if err == engine.ErrSyncInProgress {
		respondError(w, http.StatusConflict, "a sync, backup or restore is already running")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// TriggerBackup uploads a snapshot on demand
func (eh *EngineHandler) TriggerBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := eh.engine.TriggerBackup(r.Context())
	if err == engine.ErrSyncInProgress {
		respondError(w, http.StatusConflict, "a sync, backup or restore is already running")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot_id": snap.ID,
		"created_at":  snap.CreatedAt,
		"tables":      snap.TablesIncluded,
	})
}

// TriggerRestore replays a snapshot onto the local store. Destructive, so the
// snapshot id must be named explicitly or "latest" passed as true.
func (eh *EngineHandler) TriggerRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SnapshotID string `json:"snapshot_id"`
		Latest     bool   `json:"latest"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SnapshotID == "" && !req.Latest {
		respondError(w, http.StatusBadRequest, "snapshot_id or latest=true is required")
		return
	}

	restored, err := eh.engine.TriggerRestore(r.Context(), req.SnapshotID, false)
	if err == engine.ErrSyncInProgress {
		respondError(w, http.StatusConflict, "a sync, backup or restore is already running")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"restored": restored})
}

// GetQueue returns pending and dead-lettered change entries
func (eh *EngineHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	pending, err := eh.engine.Queue.Pending(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dead, err := eh.engine.Queue.DeadLetters(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pending":      pending,
		"dead_letters": dead,
	})
}

// RefreshCatalog pulls the product catalog on demand
func (eh *EngineHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	count, err := eh.engine.Catalog.Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"products": count})
}
