package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
)

func TestReconcilerDrainsOfflineWrites(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "PVC-110", "PVC Pipe", 12.40)
	ctx := context.Background()

	// A full offline session: new client, cart line referencing it, a search.
	env.remote.SetOffline(true)
	client := models.Client{UserID: "rep-1", Name: "Baustoff Müller"}
	if err := env.router.CreateClient(ctx, &client); err != nil {
		t.Fatalf("offline create client: %v", err)
	}
	if _, err := env.router.AddToCart(ctx, "rep-1", product.ID, &client.ID, 4, 12.40); err != nil {
		t.Fatalf("offline add to cart: %v", err)
	}
	if _, err := env.router.RecordSearchTerm(ctx, "rep-1", "pipes"); err != nil {
		t.Fatalf("offline search: %v", err)
	}

	env.remote.SetOffline(false)
	result := env.reconciler.Run(ctx)

	if result.Synced != 3 || result.Failed != 0 || result.Deferred != 0 {
		t.Fatalf("drain = %+v, want 3 synced", result)
	}
	if env.remote.Count(EntityClients) != 1 ||
		env.remote.Count(EntityCartItems) != 1 ||
		env.remote.Count(EntitySearchHistory) != 1 {
		t.Errorf("remote state incomplete: clients=%d cart=%d search=%d",
			env.remote.Count(EntityClients), env.remote.Count(EntityCartItems),
			env.remote.Count(EntitySearchHistory))
	}
	if entries := env.pendingEntries(t); len(entries) != 0 {
		t.Errorf("%d entries still pending after drain", len(entries))
	}

	// The cart line's remote client reference is the translated key.
	clientKey, err := env.translator.Resolve(EntityClients, client.ID)
	if err != nil {
		t.Fatalf("client identity not bound: %v", err)
	}
	rows, err := env.remote.List(ctx, EntityCartItems, store.Record{"client_id": clientKey}, 0)
	if err != nil || len(rows) != 1 {
		t.Errorf("cart line not linked to translated client: rows=%d err=%v", len(rows), err)
	}
}

func TestReconcilerReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "PVC-110", "PVC Pipe", 12.40)
	ctx := context.Background()

	env.remote.SetOffline(true)
	client := models.Client{UserID: "rep-1", Name: "Baustoff Müller"}
	if err := env.router.CreateClient(ctx, &client); err != nil {
		t.Fatalf("offline create client: %v", err)
	}
	if _, err := env.router.AddToCart(ctx, "rep-1", product.ID, nil, 4, 12.40); err != nil {
		t.Fatalf("offline add to cart: %v", err)
	}
	env.remote.SetOffline(false)

	if result := env.reconciler.Run(ctx); result.Synced != 2 {
		t.Fatalf("first drain synced %d, want 2", result.Synced)
	}

	// Simulate a crash after the remote writes but before the entries were
	// marked resolved: flip them back and drain again.
	if err := env.db.Model(&models.ChangeEntry{}).Where("resolved = ?", true).
		Update("resolved", false).Error; err != nil {
		t.Fatalf("failed to unresolve entries: %v", err)
	}
	if result := env.reconciler.Run(ctx); result.Failed != 0 {
		t.Fatalf("replay failed: %+v", result)
	}

	if env.remote.Count(EntityClients) != 1 {
		t.Errorf("replay duplicated client: %d rows", env.remote.Count(EntityClients))
	}
	if env.remote.Count(EntityCartItems) != 1 {
		t.Errorf("replay duplicated cart line: %d rows", env.remote.Count(EntityCartItems))
	}
}

func TestReconcilerDefersDependentEntries(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "PVC-110", "PVC Pipe", 12.40)
	ctx := context.Background()

	env.remote.SetOffline(true)
	client := models.Client{UserID: "rep-1", Name: "Baustoff Müller"}
	if err := env.router.CreateClient(ctx, &client); err != nil {
		t.Fatalf("offline create client: %v", err)
	}
	quote := models.Quote{
		UserID:   "rep-1",
		ClientID: client.ID,
		Items:    []models.QuoteItem{{ProductID: product.ID, Quantity: 1, UnitPrice: 12.40}},
	}
	if err := env.router.CreateQuote(ctx, &quote); err != nil {
		t.Fatalf("offline create quote: %v", err)
	}
	env.remote.SetOffline(false)

	// The client insert fails transiently, so the quote's reference cannot
	// translate. The quote must defer, not fail.
	env.remote.Fail = func(op, entity string) error {
		if op == "insert" && entity == EntityClients {
			return store.Transient(entity, fmt.Errorf("gateway timeout"))
		}
		return nil
	}
	result := env.reconciler.Run(ctx)
	if result.Failed != 1 {
		t.Fatalf("client insert failures = %d, want 1", result.Failed)
	}
	if result.Deferred != 1 {
		t.Fatalf("deferred = %d, want 1 (the quote)", result.Deferred)
	}
	if env.remote.Count(EntityQuotes) != 0 {
		t.Errorf("quote reached remote before its client")
	}

	// Next pass with a healthy remote converges in order.
	env.remote.Fail = nil
	result = env.reconciler.Run(ctx)
	if result.Synced != 2 || result.Failed != 0 {
		t.Fatalf("second pass = %+v, want 2 synced", result)
	}
	if env.remote.Count(EntityQuotes) != 1 {
		t.Errorf("quote missing after second pass")
	}
}

func TestReconcilerKeepsEntityOrderBehindBackoff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.SetOffline(true)
	first := models.Client{UserID: "rep-1", Name: "First GmbH"}
	second := models.Client{UserID: "rep-1", Name: "Second GmbH"}
	if err := env.router.CreateClient(ctx, &first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := env.router.CreateClient(ctx, &second); err != nil {
		t.Fatalf("create second: %v", err)
	}
	env.remote.SetOffline(false)

	// Park the older entry in a backoff window.
	entries := env.pendingEntries(t)
	if err := env.queue.RecordFailure(&entries[0], fmt.Errorf("transient"),
		10, time.Hour, time.Hour); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	result := env.reconciler.Run(ctx)
	if result.Synced != 0 {
		t.Fatalf("synced %d entries past a backed-off head of the same entity", result.Synced)
	}
	if result.Deferred != 2 {
		t.Errorf("deferred = %d, want 2", result.Deferred)
	}
	if env.remote.Count(EntityClients) != 0 {
		t.Errorf("later client overtook the backed-off one")
	}
}

func TestReconcilerAbortsOnAuthFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.SetOffline(true)
	for _, name := range []string{"A GmbH", "B GmbH"} {
		client := models.Client{UserID: "rep-1", Name: name}
		if err := env.router.CreateClient(ctx, &client); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	env.remote.SetOffline(false)

	env.remote.Fail = func(op, entity string) error {
		if op == "insert" {
			return store.AuthFailure(fmt.Errorf("service key revoked"))
		}
		return nil
	}

	result := env.reconciler.Run(ctx)
	if !result.Aborted {
		t.Fatal("batch not aborted on auth failure")
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1 (abort after the first)", result.Failed)
	}

	// Credentials problems are not the entries' fault: no attempts burned.
	entries := env.pendingEntries(t)
	if len(entries) != 2 {
		t.Fatalf("pending = %d, want 2", len(entries))
	}
	for _, entry := range entries {
		if entry.Attempts != 0 {
			t.Errorf("entry %d attempts = %d, want 0", entry.ID, entry.Attempts)
		}
	}
}

func TestReconcilerDeadLettersRejectedEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.SetOffline(true)
	client := models.Client{UserID: "rep-1", Name: "Poison GmbH"}
	if err := env.router.CreateClient(ctx, &client); err != nil {
		t.Fatalf("create client: %v", err)
	}
	env.remote.SetOffline(false)

	env.remote.Fail = func(op, entity string) error {
		if op == "insert" && entity == EntityClients {
			return store.Rejected(entity, fmt.Errorf("schema violation"))
		}
		return nil
	}

	// The env reconciler allows 3 attempts with zero backoff.
	for i := 0; i < 3; i++ {
		if result := env.reconciler.Run(ctx); result.Failed != 1 {
			t.Fatalf("pass %d: failed = %d, want 1", i+1, result.Failed)
		}
	}

	dead, err := env.queue.DeadLetters(0)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}

	// A poisoned entry no longer costs anything per pass.
	env.remote.Fail = nil
	if result := env.reconciler.Run(ctx); result.Failed != 0 || result.Synced != 0 {
		t.Errorf("dead letter still drains: %+v", result)
	}
}

func TestReconcilerLeavesQueueWhenOffline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.SetOffline(true)
	client := models.Client{UserID: "rep-1", Name: "Baustoff Müller"}
	if err := env.router.CreateClient(ctx, &client); err != nil {
		t.Fatalf("create client: %v", err)
	}

	result := env.reconciler.Run(ctx)
	if result.Synced != 0 || result.Failed != 0 {
		t.Fatalf("offline drain touched the queue: %+v", result)
	}
	entries := env.pendingEntries(t)
	if len(entries) != 1 || entries[0].Attempts != 0 {
		t.Errorf("offline pass changed queue state: %+v", entries)
	}
}
