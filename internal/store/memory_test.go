package store

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryInsertDeduplicates(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	key1, err := m.Insert(ctx, "clients", Record{"name": "A"}, "inst:clients:1")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	key2, err := m.Insert(ctx, "clients", Record{"name": "A"}, "inst:clients:1")
	if err != nil {
		t.Fatalf("replayed insert failed: %v", err)
	}

	if key1 != key2 {
		t.Errorf("replayed insert returned a new key: %s vs %s", key1, key2)
	}
	if m.Count("clients") != 1 {
		t.Errorf("replayed insert created a duplicate: %d rows", m.Count("clients"))
	}
}

func TestMemoryUpsertByNaturalKey(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	natural := Record{"user_id": "rep-1", "product_id": "p-1"}
	key1, err := m.Upsert(ctx, "cart_items", natural, Record{"quantity": 2})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	key2, err := m.Upsert(ctx, "cart_items", natural, Record{"quantity": 5})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if key1 != key2 {
		t.Errorf("upsert on same natural key produced new record")
	}
	rows, err := m.List(ctx, "cart_items", natural, 0)
	if err != nil || len(rows) != 1 {
		t.Fatalf("list: rows=%d err=%v", len(rows), err)
	}
	if fmt.Sprintf("%v", rows[0]["quantity"]) != "5" {
		t.Errorf("quantity = %v, want 5", rows[0]["quantity"])
	}
}

func TestMemoryUpsertKeyColumnSetsDoNotCollide(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	scoped, err := m.Upsert(ctx, "cart_items",
		Record{"user_id": "rep-1", "product_id": "p-1", "client_id": "c-1"},
		Record{"quantity": 2})
	if err != nil {
		t.Fatalf("scoped upsert failed: %v", err)
	}

	// The same line without a client scope is a different natural key and must
	// not overwrite the scoped one.
	general, err := m.Upsert(ctx, "cart_items",
		Record{"user_id": "rep-1", "product_id": "p-1"},
		Record{"quantity": 7})
	if err != nil {
		t.Fatalf("unscoped upsert failed: %v", err)
	}
	if general == scoped {
		t.Fatal("unscoped upsert matched the client-scoped line")
	}
	if m.Count("cart_items") != 2 {
		t.Fatalf("cart lines = %d, want 2", m.Count("cart_items"))
	}

	// Replaying with the identical column set still merges.
	again, err := m.Upsert(ctx, "cart_items",
		Record{"user_id": "rep-1", "product_id": "p-1"},
		Record{"quantity": 9})
	if err != nil {
		t.Fatalf("replayed upsert failed: %v", err)
	}
	if again != general {
		t.Errorf("replayed upsert created a new record")
	}

	rows, err := m.List(ctx, "cart_items", Record{"client_id": "c-1"}, 0)
	if err != nil || len(rows) != 1 {
		t.Fatalf("list scoped: rows=%d err=%v", len(rows), err)
	}
	if fmt.Sprintf("%v", rows[0]["quantity"]) != "2" {
		t.Errorf("scoped quantity = %v, want 2", rows[0]["quantity"])
	}
}

func TestMemoryOfflineGate(t *testing.T) {
	m := NewMemoryStore()
	m.SetOffline(true)
	ctx := context.Background()

	if err := m.Ping(ctx); !IsTransient(err) {
		t.Errorf("offline ping error = %v, want transient", err)
	}
	if _, err := m.Insert(ctx, "clients", Record{"name": "A"}, "k"); !IsTransient(err) {
		t.Errorf("offline insert error = %v, want transient", err)
	}
}

func TestMemoryDeleteWhereRequiresFilter(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if _, err := m.Insert(ctx, "cart_items", Record{"user_id": "rep-1"}, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Insert(ctx, "cart_items", Record{"user_id": "rep-2"}, "k2"); err != nil {
		t.Fatal(err)
	}

	if err := m.DeleteWhere(ctx, "cart_items", nil); !IsRejected(err) {
		t.Errorf("unfiltered delete error = %v, want rejected", err)
	}

	if err := m.DeleteWhere(ctx, "cart_items", Record{"user_id": "rep-1"}); err != nil {
		t.Fatalf("filtered delete failed: %v", err)
	}
	if m.Count("cart_items") != 1 {
		t.Errorf("filtered delete removed %d of 2 rows", 2-m.Count("cart_items"))
	}
}

func TestMemoryFailHook(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.Fail = func(op, entity string) error {
		if op == "insert" && entity == "quotes" {
			return Rejected(entity, fmt.Errorf("nope"))
		}
		return nil
	}

	if _, err := m.Insert(ctx, "quotes", Record{}, "k"); !IsRejected(err) {
		t.Errorf("hooked insert error = %v, want rejected", err)
	}
	if _, err := m.Insert(ctx, "clients", Record{}, "k"); err != nil {
		t.Errorf("unhooked insert failed: %v", err)
	}
}
