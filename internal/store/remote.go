package store

import (
	"context"
	"time"

	"github.com/ventalink/salesbridge/internal/models"
)

// Record is one remote row as a loose field map. Field names are stable and
// schema evolution is add-only, so maps travel better than fixed structs here.
type Record map[string]interface{}

// RemoteStore is the authoritative networked data service. Every write is
// idempotent by contract: Insert dedupes on the caller-assigned idempotency
// key, Upsert matches on a natural key, Update carries absolute field sets.
type RemoteStore interface {
	// Ping performs the cheapest possible round-trip. The context carries the
	// deadline; implementations must not retry internally.
	Ping(ctx context.Context) error

	// Insert creates a record and returns the remote-assigned key. Repeating
	// the call with the same idempotency key returns the original key without
	// creating a duplicate.
	Insert(ctx context.Context, entity string, fields Record, idempotencyKey string) (string, error)

	// Update replaces the given fields on an existing record.
	Update(ctx context.Context, entity, key string, fields Record) error

	// Delete removes a record by remote key. Deleting a missing record is not
	// an error.
	Delete(ctx context.Context, entity, key string) error

	// Upsert inserts or updates by natural key and returns the remote key of
	// the surviving record.
	Upsert(ctx context.Context, entity string, naturalKey Record, fields Record) (string, error)

	// DeleteWhere removes all records matching the filter.
	DeleteWhere(ctx context.Context, entity string, filter Record) error

	// List returns records matching the filter, up to limit (0 = no limit).
	List(ctx context.Context, entity string, filter Record, limit int) ([]Record, error)

	// PutSnapshot appends a snapshot to the blob table.
	PutSnapshot(ctx context.Context, snap *models.SnapshotRecord) error

	// GetSnapshot fetches a snapshot by id.
	GetSnapshot(ctx context.Context, id string) (*models.SnapshotRecord, error)

	// LatestSnapshot returns the most recent snapshot, or nil if none exist.
	LatestSnapshot(ctx context.Context) (*models.SnapshotRecord, error)

	// PruneSnapshots deletes snapshots created before the cutoff and reports
	// how many were removed.
	PruneSnapshots(ctx context.Context, before time.Time) (int, error)
}
