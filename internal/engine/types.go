package engine

import (
	"fmt"
	"time"
)

// Entity names used across the queue, the identity translator and snapshots.
// These match the remote service's table names.
const (
	EntityClients       = "clients"
	EntityCartItems     = "cart_items"
	EntityQuotes        = "quotes"
	EntityQuoteItems    = "quote_items"
	EntitySearchHistory = "search_history"
	EntityProducts      = "products"
)

// Operation is the kind of mutation a change entry replays.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpUpsert Operation = "upsert"
	OpClear  Operation = "clear"
)

// SyncError is one operator-visible reconciliation failure.
type SyncError struct {
	EntryID uint      `json:"entry_id"`
	Entity  string    `json:"entity"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// SyncResult summarizes one reconciler pass.
type SyncResult struct {
	Synced    int           `json:"synced"`
	Deferred  int           `json:"deferred"`
	Failed    int           `json:"failed"`
	Aborted   bool          `json:"aborted"`
	Errors    []SyncError   `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Status is the engine state surfaced to operators.
type Status struct {
	Online          bool        `json:"online"`
	Running         bool        `json:"running"`
	InstanceID      string      `json:"instance_id"`
	PendingCount    int64       `json:"pending_count"`
	DeadLetterCount int64       `json:"dead_letter_count"`
	LastSyncAt      *time.Time  `json:"last_sync_at,omitempty"`
	LastBackupAt    *time.Time  `json:"last_backup_at,omitempty"`
	LastErrors      []SyncError `json:"last_errors,omitempty"`
}

// ConnectivityState is the monitor's cached view of the remote store.
type ConnectivityState struct {
	Reachable    bool          `json:"reachable"`
	CheckedAt    time.Time     `json:"checked_at"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	LastLatency  time.Duration `json:"last_latency"`
}

// idempotencyKey derives the caller-assigned insert key from the local
// surrogate key, so a replayed insert lands on the same remote row.
func idempotencyKey(instanceID, entity string, localKey uint) string {
	return fmt.Sprintf("%s:%s:%d", instanceID, entity, localKey)
}
