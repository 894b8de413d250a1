package engine

import (
	"errors"
	"testing"
)

func TestTranslatorResolveUnknown(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.translator.Resolve(EntityClients, 42)
	if !errors.Is(err, ErrNotYetSynced) {
		t.Fatalf("expected ErrNotYetSynced, got %v", err)
	}
}

func TestTranslatorBindAndResolve(t *testing.T) {
	env := newTestEnv(t)

	if err := env.translator.Bind(EntityClients, 7, "uuid-abc"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	key, err := env.translator.Resolve(EntityClients, 7)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if key != "uuid-abc" {
		t.Errorf("resolved key = %q, want uuid-abc", key)
	}

	// The same local key under another entity is a different identity.
	if _, err := env.translator.Resolve(EntityQuotes, 7); !errors.Is(err, ErrNotYetSynced) {
		t.Errorf("expected ErrNotYetSynced for other entity, got %v", err)
	}
}

func TestTranslatorRebindSamePairIsNoop(t *testing.T) {
	env := newTestEnv(t)

	if err := env.translator.Bind(EntityClients, 7, "uuid-abc"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := env.translator.Bind(EntityClients, 7, "uuid-abc"); err != nil {
		t.Fatalf("replayed bind should be a no-op, got %v", err)
	}
}

func TestTranslatorRefusesConflictingRebind(t *testing.T) {
	env := newTestEnv(t)

	if err := env.translator.Bind(EntityClients, 7, "uuid-abc"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := env.translator.Bind(EntityClients, 7, "uuid-xyz"); err == nil {
		t.Fatal("conflicting rebind was accepted")
	}

	key, err := env.translator.Resolve(EntityClients, 7)
	if err != nil || key != "uuid-abc" {
		t.Errorf("original binding lost: key=%q err=%v", key, err)
	}
}
