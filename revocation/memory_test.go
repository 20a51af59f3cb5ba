package revocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryRotateLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, testRecord("tok-1", "user-1", time.Hour)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if err := store.Rotate(ctx, "tok-1", "user-1", testRecord("tok-2", "user-1", time.Hour)); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	old, err := store.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !old.Revoked() {
		t.Fatal("rotated record not stamped")
	}

	if err := store.Rotate(ctx, "tok-1", "user-1", testRecord("tok-3", "user-1", time.Hour)); !errors.Is(err, ErrRevoked) {
		t.Fatalf("reuse rotate = %v, want ErrRevoked", err)
	}
	if err := store.Rotate(ctx, "missing", "user-1", testRecord("tok-4", "user-1", time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing rotate = %v, want ErrNotFound", err)
	}
}

func TestMemoryRotateExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := testRecord("tok-1", "user-1", time.Hour)
	rec.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if err := store.Rotate(ctx, "tok-1", "user-1", testRecord("tok-2", "user-1", time.Hour)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired rotate = %v, want ErrExpired", err)
	}
	// Expired record is dropped on the way out.
	if _, err := store.Get(ctx, "tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryRotateConcurrentSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, testRecord("tok-race", "user-1", time.Hour)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		next := testRecord(fmt.Sprintf("tok-next-%d", i), "user-1", time.Hour)
		go func(next Record) {
			defer wg.Done()
			results <- store.Rotate(ctx, "tok-race", "user-1", next)
		}(next)
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrRevoked) {
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMemoryRevokeAllAndList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Put(ctx, testRecord(fmt.Sprintf("tok-%d", i), "user-1", time.Hour)); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	active, err := store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("active = %d, want 3", len(active))
	}

	stamped, err := store.MarkAllRevokedForSubject(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}
	if stamped != 3 {
		t.Fatalf("stamped = %d, want 3", stamped)
	}

	active, err = store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active after revoke-all = %d, want 0", len(active))
	}
}

func TestMemorySweepExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := testRecord("tok-old", "user-1", time.Hour)
	rec.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put(ctx, testRecord("tok-live", "user-1", time.Hour)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	cleaned, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("cleaned = %d, want 1", cleaned)
	}
	if _, err := store.Get(ctx, "tok-old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("swept record still present: %v", err)
	}
	if _, err := store.Get(ctx, "tok-live"); err != nil {
		t.Fatalf("live record swept: %v", err)
	}
}
