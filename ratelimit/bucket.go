package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketStore caches one x/time/rate limiter per key. It is an
// in-process structure; a multi-node deployment wanting shared state
// should use a window algorithm on the Redis counter store instead.
type BucketStore struct {
	mu      sync.Mutex
	entries map[string]*bucketEntry
	idleTTL time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewBucketStore creates an empty bucket cache.
func NewBucketStore() *BucketStore {
	return &BucketStore{
		entries: make(map[string]*bucketEntry),
		idleTTL: 15 * time.Minute,
	}
}

// Get returns the limiter for key, creating it with a refill rate of
// limit/window and a burst of limit on first use.
func (s *BucketStore) Get(key string, limit int64, window time.Duration) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), int(limit))
	s.entries[key] = &bucketEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup drops limiters not seen within the idle TTL.
func (s *BucketStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

// StartJanitor cleans idle limiters periodically until ctx is done.
func (s *BucketStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
