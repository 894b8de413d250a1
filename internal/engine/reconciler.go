package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
)

// Reconciler drains the change queue against the remote store. Entries are
// applied oldest first; successful ids are resolved in one batch write after
// the loop, so a crash mid-batch just replays the remainder (safe because
// every application is idempotent). A failed or deferred entry blocks later
// entries of the same entity in the same pass, which keeps causal order.
type Reconciler struct {
	db         *database.DB
	remote     store.RemoteStore
	queue      *ChangeQueue
	translator *Translator
	monitor    *Monitor
	instanceID string

	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	mu        sync.Mutex
	maxErrors int
	lastErrs  []SyncError
}

// NewReconciler creates a reconciler with the given retry policy
func NewReconciler(db *database.DB, remote store.RemoteStore, queue *ChangeQueue, translator *Translator, monitor *Monitor, instanceID string, batchSize, maxAttempts int, backoffBase, backoffCap time.Duration, maxErrors int) *Reconciler {
	return &Reconciler{
		db:          db,
		remote:      remote,
		queue:       queue,
		translator:  translator,
		monitor:     monitor,
		instanceID:  instanceID,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		maxErrors:   maxErrors,
	}
}

// Run performs one drain pass. The caller must hold the engine run lock.
func (rc *Reconciler) Run(ctx context.Context) *SyncResult {
	result := &SyncResult{Timestamp: time.Now().UTC()}
	defer func() { result.Duration = time.Since(result.Timestamp) }()

	if !rc.monitor.IsReachable(true) {
		log.Println("📴 Reconciler: remote unreachable, leaving queue untouched")
		return result
	}

	entries, err := rc.queue.Pending(rc.batchSize)
	if err != nil {
		log.Printf("❌ Reconciler: failed to read queue: %v", err)
		rc.record(SyncError{Message: err.Error(), At: time.Now().UTC()})
		result.Failed++
		return result
	}
	if len(entries) == 0 {
		return result
	}

	log.Printf("🔄 Reconciler: draining %d pending entries...", len(entries))

	now := time.Now().UTC()
	blocked := make(map[string]bool)
	resolved := make([]uint, 0, len(entries))

	for i := range entries {
		entry := &entries[i]

		if blocked[entry.Entity] {
			result.Deferred++
			continue
		}
		if entry.NextAttemptAt != nil && entry.NextAttemptAt.After(now) {
			blocked[entry.Entity] = true
			result.Deferred++
			continue
		}

		err := rc.apply(ctx, entry)
		switch {
		case err == nil:
			resolved = append(resolved, entry.ID)
			result.Synced++

		case errors.Is(err, ErrDependencyNotReady):
			// Not a failure: the dependency sits earlier in the queue or in a
			// blocked entity and will resolve on a later pass.
			blocked[entry.Entity] = true
			result.Deferred++

		case store.IsAuthFailure(err):
			log.Printf("❌ Reconciler: remote rejected credentials, aborting batch: %v", err)
			rc.record(SyncError{EntryID: entry.ID, Entity: entry.Entity, Message: err.Error(), At: time.Now().UTC()})
			result.Failed++
			result.Aborted = true

		default:
			log.Printf("⚠️ Reconciler: entry %d (%s %s) failed: %v", entry.ID, entry.Operation, entry.Entity, err)
			rc.record(SyncError{EntryID: entry.ID, Entity: entry.Entity, Message: err.Error(), At: time.Now().UTC()})
			if recErr := rc.queue.RecordFailure(entry, err, rc.maxAttempts, rc.backoffBase, rc.backoffCap); recErr != nil {
				log.Printf("❌ Reconciler: failed to record entry failure: %v", recErr)
			}
			if entry.DeadLetter {
				log.Printf("🪦 Reconciler: entry %d dead-lettered after %d attempts", entry.ID, entry.Attempts)
			}
			blocked[entry.Entity] = true
			result.Failed++
		}

		if result.Aborted {
			break
		}
	}

	if err := rc.queue.Resolve(resolved); err != nil {
		// Entries were applied remotely but stay pending locally; the replay
		// is idempotent, so the next pass converges.
		log.Printf("❌ Reconciler: failed to resolve batch: %v", err)
		rc.record(SyncError{Message: err.Error(), At: time.Now().UTC()})
	}

	result.Errors = rc.Errors()
	log.Printf("✅ Reconciler: %d synced, %d deferred, %d failed", result.Synced, result.Deferred, result.Failed)
	return result
}

// apply replays one change entry against the remote store
func (rc *Reconciler) apply(ctx context.Context, entry *models.ChangeEntry) error {
	payload, err := payloadMap(entry)
	if err != nil {
		return err
	}

	op := Operation(entry.Operation)
	switch entry.Entity {
	case EntityClients:
		return rc.applyClient(ctx, entry, op, payload)
	case EntityCartItems:
		return rc.applyCartItem(ctx, entry, op, payload)
	case EntityQuotes:
		return rc.applyQuote(ctx, entry, op, payload)
	case EntitySearchHistory:
		return rc.applySearch(ctx, entry, op, payload)
	case EntityProducts:
		return rc.applyProduct(ctx, entry, op, payload)
	default:
		return fmt.Errorf("entry %d: unsupported entity %q", entry.ID, entry.Entity)
	}
}

func (rc *Reconciler) applyClient(ctx context.Context, entry *models.ChangeEntry, op Operation, payload map[string]interface{}) error {
	localID, ok := payloadUint(payload, "local_id")
	if !ok {
		return fmt.Errorf("entry %d: client payload missing local_id", entry.ID)
	}

	switch op {
	case OpInsert:
		fields := pickFields(payload, "user_id", "name", "email", "phone", "city", "notes")
		key, err := rc.remote.Insert(ctx, EntityClients, fields,
			idempotencyKey(rc.instanceID, EntityClients, localID))
		if err != nil {
			return err
		}
		return rc.translator.Bind(EntityClients, localID, key)

	case OpUpdate:
		key, err := rc.resolveRef(EntityClients, localID)
		if err != nil {
			return err
		}
		return rc.remote.Update(ctx, EntityClients, key,
			pickFields(payload, "name", "email", "phone", "city", "notes"))

	case OpDelete:
		key, err := rc.resolveRef(EntityClients, localID)
		if err != nil {
			return err
		}
		return rc.remote.Delete(ctx, EntityClients, key)

	default:
		return fmt.Errorf("entry %d: unsupported client operation %q", entry.ID, op)
	}
}

func (rc *Reconciler) applyCartItem(ctx context.Context, entry *models.ChangeEntry, op Operation, payload map[string]interface{}) error {
	switch op {
	case OpUpsert:
		localID, ok := payloadUint(payload, "local_id")
		if !ok {
			return fmt.Errorf("entry %d: cart payload missing local_id", entry.ID)
		}
		productLocal, ok := payloadUint(payload, "product_local_id")
		if !ok {
			return fmt.Errorf("entry %d: cart payload missing product_local_id", entry.ID)
		}

		productKey, err := rc.resolveRef(EntityProducts, productLocal)
		if err != nil {
			return err
		}
		natural := store.Record{
			"user_id":    payloadString(payload, "user_id"),
			"product_id": productKey,
		}
		if clientLocal, ok := payloadUint(payload, "client_local_id"); ok {
			clientKey, err := rc.resolveRef(EntityClients, clientLocal)
			if err != nil {
				return err
			}
			natural["client_id"] = clientKey
		}

		key, err := rc.remote.Upsert(ctx, EntityCartItems, natural,
			pickFields(payload, "quantity", "unit_price"))
		if err != nil {
			return err
		}
		return rc.translator.Bind(EntityCartItems, localID, key)

	case OpDelete:
		localID, ok := payloadUint(payload, "local_id")
		if !ok {
			return fmt.Errorf("entry %d: cart payload missing local_id", entry.ID)
		}
		key, err := rc.resolveRef(EntityCartItems, localID)
		if err != nil {
			return err
		}
		return rc.remote.Delete(ctx, EntityCartItems, key)

	case OpClear:
		return rc.remote.DeleteWhere(ctx, EntityCartItems, pickFields(payload, "user_id"))

	default:
		return fmt.Errorf("entry %d: unsupported cart operation %q", entry.ID, op)
	}
}

func (rc *Reconciler) applyQuote(ctx context.Context, entry *models.ChangeEntry, op Operation, payload map[string]interface{}) error {
	if op != OpInsert {
		return fmt.Errorf("entry %d: unsupported quote operation %q", entry.ID, op)
	}

	localID, ok := payloadUint(payload, "local_id")
	if !ok {
		return fmt.Errorf("entry %d: quote payload missing local_id", entry.ID)
	}
	clientLocal, ok := payloadUint(payload, "client_local_id")
	if !ok {
		return fmt.Errorf("entry %d: quote payload missing client_local_id", entry.ID)
	}

	clientKey, err := rc.resolveRef(EntityClients, clientLocal)
	if err != nil {
		return err
	}

	rawItems, _ := payload["items"].([]interface{})
	items := make([]store.Record, 0, len(rawItems))
	for _, raw := range rawItems {
		line, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("entry %d: malformed quote line", entry.ID)
		}
		productLocal, ok := payloadUint(line, "product_local_id")
		if !ok {
			return fmt.Errorf("entry %d: quote line missing product_local_id", entry.ID)
		}
		productKey, err := rc.resolveRef(EntityProducts, productLocal)
		if err != nil {
			return err
		}
		items = append(items, store.Record{
			"product_id": productKey,
			"quantity":   line["quantity"],
			"unit_price": line["unit_price"],
		})
	}

	fields := pickFields(payload, "user_id", "reference", "status", "total")
	fields["client_id"] = clientKey
	fields["items"] = items

	key, err := rc.remote.Insert(ctx, EntityQuotes, fields,
		idempotencyKey(rc.instanceID, EntityQuotes, localID))
	if err != nil {
		return err
	}
	return rc.translator.Bind(EntityQuotes, localID, key)
}

func (rc *Reconciler) applySearch(ctx context.Context, entry *models.ChangeEntry, op Operation, payload map[string]interface{}) error {
	switch op {
	case OpInsert:
		localID, ok := payloadUint(payload, "local_id")
		if !ok {
			return fmt.Errorf("entry %d: search payload missing local_id", entry.ID)
		}
		key, err := rc.remote.Insert(ctx, EntitySearchHistory,
			pickFields(payload, "user_id", "term", "searched_at"),
			idempotencyKey(rc.instanceID, EntitySearchHistory, localID))
		if err != nil {
			return err
		}
		return rc.translator.Bind(EntitySearchHistory, localID, key)

	case OpClear:
		return rc.remote.DeleteWhere(ctx, EntitySearchHistory, pickFields(payload, "user_id"))

	default:
		return fmt.Errorf("entry %d: unsupported search operation %q", entry.ID, op)
	}
}

func (rc *Reconciler) applyProduct(ctx context.Context, entry *models.ChangeEntry, op Operation, payload map[string]interface{}) error {
	if op != OpUpdate {
		return fmt.Errorf("entry %d: unsupported product operation %q", entry.ID, op)
	}

	localID, ok := payloadUint(payload, "local_id")
	if !ok {
		return fmt.Errorf("entry %d: product payload missing local_id", entry.ID)
	}
	key, err := rc.resolveRef(EntityProducts, localID)
	if err != nil {
		return err
	}
	return rc.remote.Update(ctx, EntityProducts, key,
		pickFields(payload, "name", "sku", "list_price", "active"))
}

// resolveRef translates a referenced local key, converting "not yet synced"
// into a deferral.
func (rc *Reconciler) resolveRef(entity string, localKey uint) (string, error) {
	key, err := rc.translator.Resolve(entity, localKey)
	if errors.Is(err, ErrNotYetSynced) {
		return "", fmt.Errorf("%s/%d: %w", entity, localKey, ErrDependencyNotReady)
	}
	return key, err
}

// record appends to the bounded operator-visible error list
func (rc *Reconciler) record(e SyncError) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.lastErrs = append(rc.lastErrs, e)
	if len(rc.lastErrs) > rc.maxErrors {
		rc.lastErrs = rc.lastErrs[len(rc.lastErrs)-rc.maxErrors:]
	}
}

// Errors returns a copy of the recent reconciliation failures
func (rc *Reconciler) Errors() []SyncError {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]SyncError, len(rc.lastErrs))
	copy(out, rc.lastErrs)
	return out
}
