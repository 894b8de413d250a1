package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ventalink/salesbridge/internal/config"
	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
)

// EventSink receives engine lifecycle events for fan-out to connected clients
type EventSink interface {
	Publish(event string, data map[string]interface{})
}

// Engine ties the queue, translator, monitor, router, reconciler, checkpoint
// and catalog together and runs the background schedule. Exactly one drain,
// backup or restore runs at a time, guarded by runMu.
type Engine struct {
	db         *database.DB
	remote     store.RemoteStore
	cfg        *config.EngineConfig
	instanceID string

	Queue      *ChangeQueue
	Translator *Translator
	Monitor    *Monitor
	Router     *Router
	Reconciler *Reconciler
	Checkpoint *Checkpoint
	Catalog    *Catalog

	events EventSink

	runMu sync.Mutex

	mu           sync.RWMutex
	running      bool
	lastSyncAt   *time.Time
	lastBackupAt *time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewEngine wires up all engine components
func NewEngine(db *database.DB, remote store.RemoteStore, cfg *config.EngineConfig, instanceID, dataDir string, events EventSink) *Engine {
	e := &Engine{
		db:         db,
		remote:     remote,
		cfg:        cfg,
		instanceID: instanceID,
		events:     events,
	}

	e.Queue = NewChangeQueue(db)
	e.Translator = NewTranslator(db)
	e.Monitor = NewMonitor(remote,
		time.Duration(cfg.ProbeCacheSec)*time.Second,
		time.Duration(cfg.ProbeTimeoutSec)*time.Second,
		func(online bool) {
			e.publish("connectivity_changed", map[string]interface{}{"online": online})
		})
	e.Router = NewRouter(db, remote, e.Queue, e.Translator, e.Monitor, instanceID)
	e.Reconciler = NewReconciler(db, remote, e.Queue, e.Translator, e.Monitor, instanceID,
		cfg.BatchSize, cfg.MaxAttempts,
		time.Duration(cfg.BackoffBaseSec)*time.Second,
		time.Duration(cfg.BackoffCapSec)*time.Second,
		cfg.MaxErrors)
	e.Checkpoint = NewCheckpoint(db, remote, instanceID, dataDir,
		time.Duration(cfg.SnapshotRetentionDays)*24*time.Hour)
	e.Catalog = NewCatalog(db, remote, e.Translator)

	return e
}

// Start launches the background schedule. Safe to call once.
func (e *Engine) Start() {
	if !e.cfg.Enabled {
		log.Println("⚠️ Durability engine disabled by configuration")
		return
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})
	e.mu.Unlock()

	log.Printf("🔄 Durability engine started (instance=%s, sync every %ds, backup every %d ticks)",
		e.instanceID, e.cfg.SyncInterval, e.cfg.BackupEvery)

	if e.cfg.RestoreOnStartup {
		if _, err := e.TriggerRestore(context.Background(), "", true); err != nil {
			log.Printf("⚠️ Startup restore failed: %v", err)
		}
	}

	if e.cfg.CatalogOnStartup {
		go func() {
			// Give the remote probe a moment after process start.
			select {
			case <-time.After(5 * time.Second):
			case <-e.stopChan:
				return
			}
			if !e.Monitor.IsReachable(true) {
				log.Println("📴 Skipping startup catalog pull, remote unreachable")
				return
			}
			if _, err := e.Catalog.Refresh(context.Background()); err != nil {
				log.Printf("⚠️ Startup catalog pull failed: %v", err)
			}
		}()
	}

	go e.schedulerLoop()
}

// Stop shuts the schedule down and waits for an in-flight tick to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	done := e.doneChan
	e.mu.Unlock()

	<-done
	log.Println("🛑 Durability engine stopped")
}

func (e *Engine) schedulerLoop() {
	defer close(e.doneChan)

	ticker := time.NewTicker(time.Duration(e.cfg.SyncInterval) * time.Second)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			tick++

			if !e.Monitor.IsReachable(true) {
				continue
			}

			if _, err := e.TriggerSync(context.Background()); err != nil && err != ErrSyncInProgress {
				log.Printf("❌ Scheduled sync failed: %v", err)
			}

			if e.cfg.BackupEvery > 0 && tick%e.cfg.BackupEvery == 0 {
				if _, err := e.TriggerBackup(context.Background()); err != nil && err != ErrSyncInProgress {
					log.Printf("❌ Scheduled backup failed: %v", err)
				}
			}
		}
	}
}

// TriggerSync runs one reconciler pass. Returns ErrSyncInProgress if a drain,
// backup or restore is already running.
func (e *Engine) TriggerSync(ctx context.Context) (*SyncResult, error) {
	if !e.runMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.runMu.Unlock()

	result := e.Reconciler.Run(ctx)

	e.mu.Lock()
	now := time.Now().UTC()
	e.lastSyncAt = &now
	e.mu.Unlock()

	e.publish("sync_completed", map[string]interface{}{
		"synced":   result.Synced,
		"deferred": result.Deferred,
		"failed":   result.Failed,
		"aborted":  result.Aborted,
	})
	return result, nil
}

// TriggerBackup uploads one snapshot of the local store
func (e *Engine) TriggerBackup(ctx context.Context) (*models.SnapshotRecord, error) {
	if !e.runMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.runMu.Unlock()

	snap, err := e.Checkpoint.Backup(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	now := time.Now().UTC()
	e.lastBackupAt = &now
	e.mu.Unlock()

	e.publish("backup_completed", map[string]interface{}{
		"snapshot_id": snap.ID,
		"tables":      snap.TablesIncluded,
	})
	return snap, nil
}

// TriggerRestore replays a snapshot onto the local store. With startupOnly set
// the restore is skipped when the local store already holds data.
func (e *Engine) TriggerRestore(ctx context.Context, snapshotID string, startupOnly bool) (bool, error) {
	if !e.runMu.TryLock() {
		return false, ErrSyncInProgress
	}
	defer e.runMu.Unlock()

	var restored bool
	var err error
	if startupOnly {
		restored, err = e.Checkpoint.RestoreOnStartup(ctx)
	} else {
		restored, err = e.Checkpoint.Restore(ctx, snapshotID)
	}
	if err != nil {
		return false, err
	}
	if restored {
		e.publish("restore_completed", map[string]interface{}{"snapshot_id": snapshotID})
	}
	return restored, nil
}

// Status reports the engine state for the operator surface
func (e *Engine) Status() Status {
	e.mu.RLock()
	running := e.running
	lastSync := e.lastSyncAt
	lastBackup := e.lastBackupAt
	e.mu.RUnlock()

	pending, err := e.Queue.PendingCount()
	if err != nil {
		log.Printf("⚠️ Failed to count pending changes: %v", err)
	}
	dead, err := e.Queue.DeadLetterCount()
	if err != nil {
		log.Printf("⚠️ Failed to count dead letters: %v", err)
	}

	return Status{
		Online:          e.Monitor.IsReachable(false),
		Running:         running,
		InstanceID:      e.instanceID,
		PendingCount:    pending,
		DeadLetterCount: dead,
		LastSyncAt:      lastSync,
		LastBackupAt:    lastBackup,
		LastErrors:      e.Reconciler.Errors(),
	}
}

func (e *Engine) publish(event string, data map[string]interface{}) {
	if e.events != nil {
		e.events.Publish(event, data)
	}
}
