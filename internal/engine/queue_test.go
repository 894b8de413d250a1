package engine

import (
	"fmt"
	"testing"
	"time"
)

func TestQueueOrdering(t *testing.T) {
	env := newTestEnv(t)

	for i := 1; i <= 3; i++ {
		_, err := env.queue.Enqueue(EntityClients, OpInsert,
			map[string]interface{}{"local_id": i})
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	entries := env.pendingEntries(t)
	if len(entries) != 3 {
		t.Fatalf("expected 3 pending entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID {
			t.Errorf("entries out of order: %d after %d", entries[i].ID, entries[i-1].ID)
		}
	}
}

func TestQueueResolveKeepsEntries(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.queue.Enqueue(EntitySearchHistory, OpInsert,
		map[string]interface{}{"local_id": 1, "term": "pipes"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := env.queue.Resolve([]uint{entry.ID}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if entries := env.pendingEntries(t); len(entries) != 0 {
		t.Errorf("resolved entry still pending")
	}

	// The entry itself survives as an audit record.
	var count int64
	if err := env.db.Table("change_entries").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected resolved entry to be kept, found %d rows", count)
	}
}

func TestQueueBackoffDoubles(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.queue.Enqueue(EntityClients, OpInsert,
		map[string]interface{}{"local_id": 1})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	base := 30 * time.Second
	cap := 2 * time.Minute
	cause := fmt.Errorf("remote hiccup")

	wantDelays := []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute, 2 * time.Minute}
	for i, want := range wantDelays {
		before := time.Now().UTC()
		if err := env.queue.RecordFailure(entry, cause, 10, base, cap); err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		got := entry.NextAttemptAt.Sub(before)
		if got < want-time.Second || got > want+time.Second {
			t.Errorf("attempt %d: delay = %v, want about %v", i+1, got, want)
		}
	}

	if entry.LastError == nil || *entry.LastError != "remote hiccup" {
		t.Errorf("last error not recorded")
	}
}

func TestQueueDeadLetterAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.queue.Enqueue(EntityClients, OpInsert,
		map[string]interface{}{"local_id": 1})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	cause := fmt.Errorf("permanent trouble")
	for i := 0; i < 3; i++ {
		if err := env.queue.RecordFailure(entry, cause, 3, 0, 0); err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
	}

	if !entry.DeadLetter {
		t.Fatal("entry not dead-lettered after max attempts")
	}

	// Dead letters leave the drain but stay visible to operators.
	if entries := env.pendingEntries(t); len(entries) != 0 {
		t.Errorf("dead-lettered entry still pending")
	}
	dead, err := env.queue.DeadLetters(0)
	if err != nil {
		t.Fatalf("dead letters read failed: %v", err)
	}
	if len(dead) != 1 {
		t.Errorf("expected 1 dead letter, got %d", len(dead))
	}

	count, err := env.queue.DeadLetterCount()
	if err != nil {
		t.Fatalf("dead letter count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("dead letter count = %d, want 1", count)
	}
}
