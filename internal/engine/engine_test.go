package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/ventalink/salesbridge/internal/config"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Publish(event string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, sink EventSink) (*Engine, *store.MemoryStore) {
	t.Helper()

	db := newTestDB(t)
	remote := store.NewMemoryStore()
	cfg := &config.EngineConfig{
		Enabled:         true,
		SyncInterval:    3600,
		BackupEvery:     10,
		BatchSize:       100,
		MaxAttempts:     3,
		MaxErrors:       10,
		ProbeTimeoutSec: 1,
	}
	return NewEngine(db, remote, cfg, testInstance, t.TempDir(), sink), remote
}

func TestEngineRunLockSerializesTriggers(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// Simulate an in-flight run holding the engine lock.
	if !eng.runMu.TryLock() {
		t.Fatal("fresh engine lock already held")
	}
	defer eng.runMu.Unlock()

	if _, err := eng.TriggerSync(context.Background()); err != ErrSyncInProgress {
		t.Errorf("TriggerSync = %v, want ErrSyncInProgress", err)
	}
	if _, err := eng.TriggerBackup(context.Background()); err != ErrSyncInProgress {
		t.Errorf("TriggerBackup = %v, want ErrSyncInProgress", err)
	}
	if _, err := eng.TriggerRestore(context.Background(), "", false); err != ErrSyncInProgress {
		t.Errorf("TriggerRestore = %v, want ErrSyncInProgress", err)
	}
}

func TestEngineStatusReflectsQueue(t *testing.T) {
	eng, remote := newTestEngine(t, nil)
	ctx := context.Background()

	remote.SetOffline(true)
	client := models.Client{UserID: "rep-1", Name: "Baustoff Müller"}
	if err := eng.Router.CreateClient(ctx, &client); err != nil {
		t.Fatalf("create client: %v", err)
	}

	status := eng.Status()
	if status.Online {
		t.Error("status online with an unreachable remote")
	}
	if status.PendingCount != 1 {
		t.Errorf("pending = %d, want 1", status.PendingCount)
	}
	if status.InstanceID != testInstance {
		t.Errorf("instance = %q", status.InstanceID)
	}

	remote.SetOffline(false)
	if _, err := eng.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	status = eng.Status()
	if !status.Online || status.PendingCount != 0 {
		t.Errorf("post-sync status = %+v", status)
	}
	if status.LastSyncAt == nil {
		t.Error("last sync time not recorded")
	}
}

func TestEnginePublishesLifecycleEvents(t *testing.T) {
	sink := &recordingSink{}
	eng, remote := newTestEngine(t, sink)
	ctx := context.Background()

	// First probe is a transition and must reach the sink.
	eng.Monitor.IsReachable(true)
	if !sink.has("connectivity_changed") {
		t.Error("connectivity transition not published")
	}

	remote.SetOffline(true)
	client := models.Client{UserID: "rep-1", Name: "Baustoff Müller"}
	if err := eng.Router.CreateClient(ctx, &client); err != nil {
		t.Fatalf("create client: %v", err)
	}
	remote.SetOffline(false)

	if _, err := eng.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !sink.has("sync_completed") {
		t.Error("sync completion not published")
	}

	if _, err := eng.TriggerBackup(ctx); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !sink.has("backup_completed") {
		t.Error("backup completion not published")
	}
}
