package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ventalink/salesbridge/internal/models"
)

// MemoryStore is an in-memory RemoteStore. It backs development setups without
// a remote service and is the test double for the engine: reachability can be
// toggled and per-operation failures injected.
type MemoryStore struct {
	mu          sync.Mutex
	tables      map[string]map[string]Record
	idemIndex   map[string]string
	upsertIndex map[string]string
	snapshots   []models.SnapshotRecord

	offline bool

	// Fail, when set, is consulted before every operation; a non-nil return is
	// surfaced as that operation's error.
	Fail func(op, entity string) error
}

// NewMemoryStore creates an empty in-memory remote store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:      make(map[string]map[string]Record),
		idemIndex:   make(map[string]string),
		upsertIndex: make(map[string]string),
	}
}

// SetOffline toggles simulated reachability
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func (m *MemoryStore) gate(op, entity string) error {
	if m.offline {
		return Transient(entity, fmt.Errorf("remote unreachable"))
	}
	if m.Fail != nil {
		if err := m.Fail(op, entity); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) table(entity string) map[string]Record {
	t, ok := m.tables[entity]
	if !ok {
		t = make(map[string]Record)
		m.tables[entity] = t
	}
	return t
}

// Ping reports simulated reachability
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate("ping", pingEntity)
}

// Insert creates a record, deduplicating on the idempotency key
func (m *MemoryStore) Insert(ctx context.Context, entity string, fields Record, idempotencyKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("insert", entity); err != nil {
		return "", err
	}

	idem := entity + ":" + idempotencyKey
	if key, ok := m.idemIndex[idem]; ok {
		return key, nil
	}

	key := uuid.NewString()
	rec := cloneRecord(fields)
	rec["id"] = key
	m.table(entity)[key] = rec
	m.idemIndex[idem] = key
	return key, nil
}

// Update replaces the given fields on an existing record
func (m *MemoryStore) Update(ctx context.Context, entity, key string, fields Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("update", entity); err != nil {
		return err
	}

	rec, ok := m.table(entity)[key]
	if !ok {
		return Rejected(entity, fmt.Errorf("record %s not found", key))
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

// Delete removes a record by remote key; missing records are not an error
func (m *MemoryStore) Delete(ctx context.Context, entity, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("delete", entity); err != nil {
		return err
	}
	delete(m.table(entity), key)
	return nil
}

// Upsert inserts or updates by natural key. Matching is indexed on the exact
// column set of the key, mirroring a conflict target: a key that omits a
// column never collides with a record whose key carried it.
func (m *MemoryStore) Upsert(ctx context.Context, entity string, naturalKey Record, fields Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("upsert", entity); err != nil {
		return "", err
	}

	t := m.table(entity)
	idx := entity + ":" + canonicalKey(naturalKey)
	if key, ok := m.upsertIndex[idx]; ok {
		if rec, live := t[key]; live {
			for k, v := range fields {
				rec[k] = v
			}
			return key, nil
		}
		// Record deleted since; the stale index entry goes with it.
		delete(m.upsertIndex, idx)
	}

	key := uuid.NewString()
	rec := cloneRecord(naturalKey)
	for k, v := range fields {
		rec[k] = v
	}
	rec["id"] = key
	t[key] = rec
	m.upsertIndex[idx] = key
	return key, nil
}

// DeleteWhere removes all records matching the filter
func (m *MemoryStore) DeleteWhere(ctx context.Context, entity string, filter Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("delete_where", entity); err != nil {
		return err
	}
	if len(filter) == 0 {
		return Rejected(entity, fmt.Errorf("refusing unfiltered delete"))
	}

	t := m.table(entity)
	for key, rec := range t {
		if matches(rec, filter) {
			delete(t, key)
		}
	}
	return nil
}

// List returns records matching the filter
func (m *MemoryStore) List(ctx context.Context, entity string, filter Record, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("list", entity); err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	t := m.table(entity)
	for key, rec := range t {
		if len(filter) == 0 || matches(rec, filter) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneRecord(t[key]))
	}
	return out, nil
}

// PutSnapshot appends a snapshot
func (m *MemoryStore) PutSnapshot(ctx context.Context, snap *models.SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("put_snapshot", "snapshots"); err != nil {
		return err
	}
	m.snapshots = append(m.snapshots, *snap)
	return nil
}

// GetSnapshot fetches a snapshot by id
func (m *MemoryStore) GetSnapshot(ctx context.Context, id string) (*models.SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("get_snapshot", "snapshots"); err != nil {
		return nil, err
	}
	for i := range m.snapshots {
		if m.snapshots[i].ID == id {
			snap := m.snapshots[i]
			return &snap, nil
		}
	}
	return nil, Rejected("snapshots", fmt.Errorf("snapshot %s not found", id))
}

// LatestSnapshot returns the most recent snapshot, or nil if none exist
func (m *MemoryStore) LatestSnapshot(ctx context.Context) (*models.SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("latest_snapshot", "snapshots"); err != nil {
		return nil, err
	}
	if len(m.snapshots) == 0 {
		return nil, nil
	}

	latest := m.snapshots[0]
	for _, snap := range m.snapshots[1:] {
		if snap.CreatedAt.After(latest.CreatedAt) {
			latest = snap
		}
	}
	return &latest, nil
}

// PruneSnapshots deletes snapshots created before the cutoff
func (m *MemoryStore) PruneSnapshots(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate("prune_snapshots", "snapshots"); err != nil {
		return 0, err
	}

	kept := m.snapshots[:0]
	pruned := 0
	for _, snap := range m.snapshots {
		if snap.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, snap)
	}
	m.snapshots = kept
	return pruned, nil
}

// Count returns the number of records in a table (test/inspection helper)
func (m *MemoryStore) Count(entity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table(entity))
}

// matches compares loosely: values arriving via JSON may be float64 while the
// filter carries ints, so comparison goes through formatted strings.
func matches(rec Record, filter Record) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// canonicalKey folds a natural key into a stable string covering both its
// column names and values.
func canonicalKey(key Record) string {
	names := make([]string, 0, len(key))
	for k := range key {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		fmt.Fprintf(&b, "%s=%v;", k, key[k])
	}
	return b.String()
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
