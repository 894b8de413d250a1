package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
	"gorm.io/gorm/clause"
)

// Catalog refreshes the local product cache from the remote store. Products
// flow one way, remote to local; the only local-to-remote product path is the
// queued price/flag update the router produces.
type Catalog struct {
	db         *database.DB
	remote     store.RemoteStore
	translator *Translator
}

// NewCatalog creates a catalog refresher
func NewCatalog(db *database.DB, remote store.RemoteStore, translator *Translator) *Catalog {
	return &Catalog{db: db, remote: remote, translator: translator}
}

// Refresh pulls the full product list and upserts it into the local cache,
// keyed by the remote id. Returns the number of products processed.
func (c *Catalog) Refresh(ctx context.Context) (int, error) {
	records, err := c.remote.List(ctx, EntityProducts, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list remote products: %w", err)
	}

	now := time.Now().UTC()
	count := 0
	for _, rec := range records {
		remoteID, _ := rec["id"].(string)
		if remoteID == "" {
			log.Printf("⚠️ Catalog: skipping product record without id: %v", rec)
			continue
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return count, fmt.Errorf("failed to encode product %s: %w", remoteID, err)
		}

		product := models.Product{
			RemoteID:     remoteID,
			SKU:          recordString(rec, "sku"),
			Name:         recordString(rec, "name"),
			ListPrice:    recordFloat(rec, "list_price"),
			Active:       recordBool(rec, "active", true),
			LastSyncedAt: now,
			RawData:      raw,
		}

		err = c.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "remote_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"sku", "name", "list_price", "active", "last_synced_at", "raw_data",
			}),
		}).Create(&product).Error
		if err != nil {
			return count, &LocalStoreError{Op: "catalog upsert", Err: err}
		}

		// The OnConflict path does not fill ID on update, so read it back.
		var cached models.Product
		if err := c.db.Where("remote_id = ?", remoteID).First(&cached).Error; err != nil {
			return count, &LocalStoreError{Op: "catalog lookup", Err: err}
		}
		if err := c.translator.Bind(EntityProducts, cached.ID, remoteID); err != nil {
			return count, err
		}
		count++
	}

	log.Printf("📦 Catalog refreshed: %d products", count)
	return count, nil
}

func recordString(rec store.Record, key string) string {
	if s, ok := rec[key].(string); ok {
		return s
	}
	return ""
}

func recordFloat(rec store.Record, key string) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func recordBool(rec store.Record, key string, def bool) bool {
	if b, ok := rec[key].(bool); ok {
		return b
	}
	return def
}
