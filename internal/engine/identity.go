package engine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"gorm.io/gorm"
)

// Translator is the single sanctioned way to map local surrogate keys to the
// permanent identifiers the remote store assigns. Translation is
// one-directional: mappings are appended by Bind and never reassigned.
type Translator struct {
	db *database.DB
}

// NewTranslator creates a translator backed by the local store
func NewTranslator(db *database.DB) *Translator {
	return &Translator{db: db}
}

// Resolve returns the remote key bound to a local key, or ErrNotYetSynced if
// the record has not reconciled yet.
func (t *Translator) Resolve(entity string, localKey uint) (string, error) {
	var mapping models.IdentityMapping
	err := t.db.Where("entity = ? AND local_key = ?", entity, localKey).
		First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%s/%d: %w", entity, localKey, ErrNotYetSynced)
	}
	if err != nil {
		return "", &LocalStoreError{Op: "resolve identity", Err: err}
	}
	return mapping.RemoteKey, nil
}

// Bind records the remote key for a local key. Binding the same pair again is
// a no-op (replays after a crash hit this path); binding a different remote
// key for an already-bound local key is refused.
func (t *Translator) Bind(entity string, localKey uint, remoteKey string) error {
	var existing models.IdentityMapping
	err := t.db.Where("entity = ? AND local_key = ?", entity, localKey).
		First(&existing).Error
	if err == nil {
		if existing.RemoteKey == remoteKey {
			return nil
		}
		return fmt.Errorf("identity %s/%d already bound to %s, refusing rebind to %s",
			entity, localKey, existing.RemoteKey, remoteKey)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return &LocalStoreError{Op: "bind lookup", Err: err}
	}

	mapping := models.IdentityMapping{
		Entity:    entity,
		LocalKey:  localKey,
		RemoteKey: remoteKey,
		BoundAt:   time.Now().UTC(),
	}
	if err := t.db.Create(&mapping).Error; err != nil {
		return &LocalStoreError{Op: "bind", Err: err}
	}

	log.Printf("🔗 Identity bound: %s local=%d remote=%s", entity, localKey, remoteKey)
	return nil
}
