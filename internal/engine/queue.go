package engine

import (
	"encoding/json"
	"time"

	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChangeQueue is the durable write-ahead log of pending mutations. Entries are
// appended synchronously inside the calling domain operation and only ever
// flipped to resolved, never deleted.
type ChangeQueue struct {
	db *database.DB
}

// NewChangeQueue creates a change queue backed by the local store
func NewChangeQueue(db *database.DB) *ChangeQueue {
	return &ChangeQueue{db: db}
}

// Enqueue durably appends one mutation. It returns only after the local store
// has committed the row; a failure here must fail the whole domain operation.
func (q *ChangeQueue) Enqueue(entity string, op Operation, payload map[string]interface{}) (*models.ChangeEntry, error) {
	return q.EnqueueTx(q.db.DB, entity, op, payload)
}

// EnqueueTx appends one mutation inside the caller's transaction, so a domain
// write and its mirror commit or roll back together.
func (q *ChangeQueue) EnqueueTx(tx *gorm.DB, entity string, op Operation, payload map[string]interface{}) (*models.ChangeEntry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &LocalStoreError{Op: "enqueue encode", Err: err}
	}

	entry := models.ChangeEntry{
		Entity:    entity,
		Operation: string(op),
		Payload:   datatypes.JSON(data),
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, &LocalStoreError{Op: "enqueue", Err: err}
	}
	return &entry, nil
}

// DiscardTx marks an entry resolved with the rejection that made it
// unreplayable, inside the caller's transaction.
func (q *ChangeQueue) DiscardTx(tx *gorm.DB, entry *models.ChangeEntry, cause error) error {
	err := tx.Model(entry).Updates(map[string]interface{}{
		"resolved":   true,
		"last_error": cause.Error(),
	}).Error
	if err != nil {
		return &LocalStoreError{Op: "discard", Err: err}
	}
	return nil
}

// Pending returns unresolved, non-dead-letter entries oldest first. Backoff
// filtering happens in the reconciler so that per-entity ordering survives a
// backed-off head entry.
func (q *ChangeQueue) Pending(limit int) ([]models.ChangeEntry, error) {
	var entries []models.ChangeEntry
	tx := q.db.Where("resolved = ? AND dead_letter = ?", false, false).Order("id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entries).Error; err != nil {
		return nil, &LocalStoreError{Op: "pending", Err: err}
	}
	return entries, nil
}

// Resolve marks the given entries resolved in one batch write
func (q *ChangeQueue) Resolve(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := q.db.Model(&models.ChangeEntry{}).Where("id IN ?", ids).
		Update("resolved", true).Error
	if err != nil {
		return &LocalStoreError{Op: "resolve", Err: err}
	}
	return nil
}

// RecordFailure bumps the retry bookkeeping on a failed entry. After
// maxAttempts consecutive failures the entry is classified dead-letter: kept
// for operators, excluded from the drain.
func (q *ChangeQueue) RecordFailure(entry *models.ChangeEntry, cause error, maxAttempts int, backoffBase, backoffCap time.Duration) error {
	attempts := entry.Attempts + 1

	delay := backoffBase << uint(attempts-1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	next := time.Now().UTC().Add(delay)
	msg := cause.Error()

	updates := map[string]interface{}{
		"attempts":        attempts,
		"last_error":      msg,
		"next_attempt_at": next,
		"dead_letter":     attempts >= maxAttempts,
	}
	if err := q.db.Model(entry).Updates(updates).Error; err != nil {
		return &LocalStoreError{Op: "record failure", Err: err}
	}

	entry.Attempts = attempts
	entry.LastError = &msg
	entry.NextAttemptAt = &next
	entry.DeadLetter = attempts >= maxAttempts
	return nil
}

// PendingCount returns the number of unresolved, non-dead-letter entries
func (q *ChangeQueue) PendingCount() (int64, error) {
	var count int64
	err := q.db.Model(&models.ChangeEntry{}).
		Where("resolved = ? AND dead_letter = ?", false, false).Count(&count).Error
	if err != nil {
		return 0, &LocalStoreError{Op: "pending count", Err: err}
	}
	return count, nil
}

// DeadLetterCount returns the number of dead-lettered entries
func (q *ChangeQueue) DeadLetterCount() (int64, error) {
	var count int64
	err := q.db.Model(&models.ChangeEntry{}).
		Where("resolved = ? AND dead_letter = ?", false, true).Count(&count).Error
	if err != nil {
		return 0, &LocalStoreError{Op: "dead letter count", Err: err}
	}
	return count, nil
}

// DeadLetters returns dead-lettered entries for operator inspection
func (q *ChangeQueue) DeadLetters(limit int) ([]models.ChangeEntry, error) {
	var entries []models.ChangeEntry
	tx := q.db.Where("resolved = ? AND dead_letter = ?", false, true).Order("id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entries).Error; err != nil {
		return nil, &LocalStoreError{Op: "dead letters", Err: err}
	}
	return entries, nil
}
