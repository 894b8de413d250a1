package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ventalink/salesbridge/internal/config"
	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/engine"
	"github.com/ventalink/salesbridge/internal/store"
)

// One-shot queue drain for operators: connects, runs a single reconciler
// pass and prints the resulting engine status as JSON.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	if cfg.Remote.URL == "" {
		log.Fatal("❌ REMOTE_URL is required for a drain")
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	remote := store.NewRESTClient(cfg.Remote.URL, cfg.Remote.ServiceKey,
		time.Duration(cfg.Remote.TimeoutSec)*time.Second)

	engineCfg := config.LoadEngineConfig()
	eng := engine.NewEngine(db, remote, engineCfg, cfg.InstanceID, cfg.DataDir, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := eng.TriggerSync(ctx)
	if err != nil {
		log.Fatalf("❌ Sync failed: %v", err)
	}

	out := map[string]interface{}{
		"result": result,
		"status": eng.Status(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("❌ Failed to encode output: %v", err)
	}

	if result.Failed > 0 || result.Aborted {
		fmt.Fprintln(os.Stderr, "⚠️ Drain finished with failures")
		os.Exit(1)
	}
}
