package engine

import (
	"context"
	"testing"

	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
)

func TestCatalogRefreshPopulatesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, p := range []store.Record{
		{"sku": "PVC-110", "name": "PVC Pipe 110mm", "list_price": 12.40, "active": true},
		{"sku": "CEM-25", "name": "Cement Bag 25kg", "list_price": 8.75, "active": true},
	} {
		if _, err := env.remote.Insert(ctx, EntityProducts, p, "seed-"+p["sku"].(string)); err != nil {
			t.Fatalf("seed remote product: %v", err)
		}
	}

	count, err := env.catalog.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("refreshed %d products, want 2", count)
	}

	var cached []models.Product
	if err := env.db.Order("sku ASC").Find(&cached).Error; err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if len(cached) != 2 || cached[1].SKU != "PVC-110" {
		t.Fatalf("cache contents wrong: %+v", cached)
	}

	// Each cached row carries a bound identity for reference translation.
	for _, p := range cached {
		key, err := env.translator.Resolve(EntityProducts, p.ID)
		if err != nil {
			t.Errorf("product %s identity unbound: %v", p.SKU, err)
		}
		if key != p.RemoteID {
			t.Errorf("product %s bound to %s, want %s", p.SKU, key, p.RemoteID)
		}
	}
}

func TestCatalogRefreshUpdatesExistingRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.remote.Insert(ctx, EntityProducts,
		store.Record{"sku": "PVC-110", "name": "PVC Pipe", "list_price": 12.40, "active": true},
		"seed-PVC-110")
	if err != nil {
		t.Fatalf("seed remote product: %v", err)
	}
	if _, err := env.catalog.Refresh(ctx); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	if err := env.remote.Update(ctx, EntityProducts, key,
		store.Record{"list_price": 13.90, "active": false}); err != nil {
		t.Fatalf("remote price change: %v", err)
	}
	if _, err := env.catalog.Refresh(ctx); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	var product models.Product
	if err := env.db.Where("remote_id = ?", key).First(&product).Error; err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if product.ListPrice != 13.90 || product.Active {
		t.Errorf("cache not updated: price=%v active=%v", product.ListPrice, product.Active)
	}

	var count int64
	env.db.Model(&models.Product{}).Count(&count)
	if count != 1 {
		t.Errorf("refresh duplicated the product: %d rows", count)
	}
}
