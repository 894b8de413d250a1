package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ventalink/salesbridge/internal/config"
	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/engine"
	"github.com/ventalink/salesbridge/internal/handlers"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
	"github.com/ventalink/salesbridge/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize local store (detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		// Domain tables
		&models.Client{},
		&models.CartItem{},
		&models.Quote{},
		&models.QuoteItem{},
		&models.SearchEntry{},

		// Catalog cache (remote-authoritative)
		&models.Product{},

		// Engine tables
		&models.ChangeEntry{},
		&models.IdentityMapping{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Pick the remote store. No REMOTE_URL means the in-memory double,
	// which keeps demos and local development network-free.
	var remote store.RemoteStore
	if cfg.Remote.URL != "" {
		remote = store.NewRESTClient(cfg.Remote.URL, cfg.Remote.ServiceKey,
			time.Duration(cfg.Remote.TimeoutSec)*time.Second)
		log.Printf("🌐 Remote store: %s", cfg.Remote.URL)
	} else {
		remote = store.NewMemoryStore()
		log.Println("📦 Remote store: in-memory (REMOTE_URL not set)")
	}

	// 5. Start the event hub and the durability engine
	hub := websocket.NewHub()
	go hub.Run()

	engineCfg := config.LoadEngineConfig()
	eng := engine.NewEngine(db, remote, engineCfg, cfg.InstanceID, cfg.DataDir, hub)
	eng.Start()

	// 6. Set up HTTP router
	router := handlers.NewRouter(db, eng, hub, cfg)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on port %s [instance: %s]\n", cfg.Port, cfg.InstanceID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop the engine before the database goes away
	eng.Stop()

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
