package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeEntry is one durable queued mutation awaiting reconciliation against
// the remote store. Entries are immutable once written except for the resolved
// flag and the retry bookkeeping; they are never physically deleted, which
// keeps the queue a write-ahead log with an audit trail.
type ChangeEntry struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Entity        string         `gorm:"type:varchar(100);not null;index:idx_change_pending" json:"entity"`
	Operation     string         `gorm:"type:varchar(20);not null" json:"operation"`
	Payload       datatypes.JSON `json:"payload"`
	Resolved      bool           `gorm:"default:false;index:idx_change_pending" json:"resolved"`
	Attempts      int            `gorm:"default:0" json:"attempts"`
	LastError     *string        `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	DeadLetter    bool           `gorm:"default:false;index" json:"dead_letter"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ChangeEntry) TableName() string { return "change_entries" }

// IdentityMapping links a local surrogate key to the permanent identifier the
// remote store assigned for the same record. A local key maps to at most one
// remote key and is never reassigned.
type IdentityMapping struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Entity    string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_identity_local" json:"entity"`
	LocalKey  uint      `gorm:"not null;uniqueIndex:idx_identity_local" json:"local_key"`
	RemoteKey string    `gorm:"type:varchar(64);not null" json:"remote_key"`
	BoundAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"bound_at"`
}

func (IdentityMapping) TableName() string { return "identity_mappings" }
