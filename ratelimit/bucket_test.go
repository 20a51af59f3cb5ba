package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketStoreReusesLimiter(t *testing.T) {
	store := NewBucketStore()

	first := store.Get("k", 10, time.Second)
	second := store.Get("k", 10, time.Second)
	assert.Same(t, first, second)

	other := store.Get("other", 10, time.Second)
	assert.NotSame(t, first, other)
}

func TestBucketStoreCleanup(t *testing.T) {
	store := NewBucketStore()
	store.idleTTL = time.Millisecond

	store.Get("stale", 10, time.Second)
	time.Sleep(5 * time.Millisecond)
	store.Cleanup()

	store.mu.Lock()
	_, ok := store.entries["stale"]
	store.mu.Unlock()
	assert.False(t, ok, "idle limiter should be evicted")
}
