package oplog

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/family-sync/internal/store"
	"github.com/example/family-sync/internal/types"
)

func testLog(t *testing.T) (*Log, store.Store) {
	t.Helper()
	st := store.NewMemory()
	return Open(context.Background(), st, zerolog.New(io.Discard)), st
}

func op(id, localID, dependsOn string, createdAt time.Time) types.PendingOperation {
	return types.PendingOperation{
		ID:               id,
		Kind:             types.OpCreatePerson,
		LocalID:          localID,
		Payload:          []byte(`{}`),
		CreatedAt:        createdAt,
		DependsOnLocalID: dependsOn,
	}
}

func TestEnqueueDequeueCount(t *testing.T) {
	ctx := context.Background()
	l, _ := testLog(t)

	if err := l.Enqueue(ctx, op("a", "p1", "", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := l.Enqueue(ctx, op("b", "p2", "", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := l.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	if err := l.Dequeue(ctx, "a"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := l.Count(); got != 1 {
		t.Fatalf("count after dequeue = %d, want 1", got)
	}
	if l.All()[0].ID != "b" {
		t.Fatalf("remaining op = %s, want b", l.All()[0].ID)
	}
}

func TestRehydrateAcrossRestart(t *testing.T) {
	ctx := context.Background()
	l, st := testLog(t)

	if err := l.Enqueue(ctx, op("a", "p1", "", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	reopened := Open(ctx, st, zerolog.New(io.Discard))
	if got := reopened.Count(); got != 1 {
		t.Fatalf("rehydrated count = %d, want 1", got)
	}
	if reopened.All()[0].ID != "a" {
		t.Fatalf("rehydrated op = %s, want a", reopened.All()[0].ID)
	}
}

func TestCorruptStorageStartsEmpty(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.PutBlob(ctx, StorageKey, []byte("{not json")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	l := Open(ctx, st, zerolog.New(io.Discard))
	if got := l.Count(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}

func TestMarkFailedDropsAtCeiling(t *testing.T) {
	ctx := context.Background()
	l, _ := testLog(t)

	if err := l.Enqueue(ctx, op("a", "p1", "", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 0; i < MaxRetries-1; i++ {
		if err := l.MarkFailed(ctx, "a"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		if got := l.Count(); got != 1 {
			t.Fatalf("count after %d failures = %d, want 1", i+1, got)
		}
	}

	if err := l.MarkFailed(ctx, "a"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if got := l.Count(); got != 0 {
		t.Fatalf("count after %d failures = %d, want 0", MaxRetries, got)
	}
}

func TestReadyGatesOnDependencyAndSortsByCreation(t *testing.T) {
	ctx := context.Background()
	l, _ := testLog(t)
	base := time.Now()

	if err := l.Enqueue(ctx, op("late", "p3", "", base.Add(2*time.Second))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := l.Enqueue(ctx, op("gated", "m1", "p-unsynced", base.Add(time.Second))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := l.Enqueue(ctx, op("early", "p1", "", base)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ready := l.Ready(map[string]bool{})
	if len(ready) != 2 {
		t.Fatalf("ready len = %d, want 2", len(ready))
	}
	if ready[0].ID != "early" || ready[1].ID != "late" {
		t.Fatalf("ready order = %s,%s, want early,late", ready[0].ID, ready[1].ID)
	}

	ready = l.Ready(map[string]bool{"p-unsynced": true})
	if len(ready) != 3 {
		t.Fatalf("ready len with resolved dep = %d, want 3", len(ready))
	}
	if ready[1].ID != "gated" {
		t.Fatalf("ready[1] = %s, want gated", ready[1].ID)
	}
}

func TestRemoveForLocal(t *testing.T) {
	ctx := context.Background()
	l, _ := testLog(t)

	if err := l.Enqueue(ctx, op("a", "p1", "", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := l.Enqueue(ctx, op("b", "p1", "", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := l.Enqueue(ctx, op("c", "p2", "", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := l.RemoveForLocal(ctx, "p1"); err != nil {
		t.Fatalf("remove for local: %v", err)
	}
	all := l.All()
	if len(all) != 1 || all[0].ID != "c" {
		t.Fatalf("remaining = %v, want just c", all)
	}
}
