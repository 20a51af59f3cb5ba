package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is the single-process [CounterStore]. State lives
// behind one mutex, which makes every operation trivially atomic; each
// access lazily discards expired state, so entries never outlive their
// window by more than one idle period plus the janitor interval.
type MemoryCounterStore struct {
	mu      sync.Mutex
	fixed   map[string]*fixedEntry
	sliding map[string][]time.Time
	idleTTL time.Duration
	now     func() time.Time
}

type fixedEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounterStore creates an empty in-process counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		fixed:   make(map[string]*fixedEntry),
		sliding: make(map[string][]time.Time),
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

// IncrFixed implements [CounterStore].
func (s *MemoryCounterStore) IncrFixed(_ context.Context, key string, window time.Duration, cost int64) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.fixed[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &fixedEntry{expiresAt: now.Add(window)}
		s.fixed[key] = entry
	}
	entry.count += cost

	return entry.count, entry.expiresAt.Sub(now), nil
}

// PeekFixed implements [CounterStore].
func (s *MemoryCounterStore) PeekFixed(_ context.Context, key string) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.fixed[key]
	if !ok {
		return 0, 0, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(s.fixed, key)
		return 0, 0, nil
	}
	return entry.count, entry.expiresAt.Sub(now), nil
}

// IncrSliding implements [CounterStore].
func (s *MemoryCounterStore) IncrSliding(_ context.Context, key string, window time.Duration, cost int64, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := evict(s.sliding[key], now.Add(-window))
	for i := int64(0); i < cost; i++ {
		kept = append(kept, now)
	}
	s.sliding[key] = kept

	return int64(len(kept)), kept[0], nil
}

// PeekSliding implements [CounterStore].
func (s *MemoryCounterStore) PeekSliding(_ context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := evict(s.sliding[key], now.Add(-window))
	if len(kept) == 0 {
		delete(s.sliding, key)
		return 0, time.Time{}, nil
	}
	s.sliding[key] = kept

	return int64(len(kept)), kept[0], nil
}

// Reset implements [CounterStore].
func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fixed, key)
	delete(s.sliding, key)
	return nil
}

// Cleanup drops expired fixed counters and empty sliding sets. Called
// by [MemoryCounterStore.StartJanitor]; exported for manual sweeps.
func (s *MemoryCounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.fixed {
		if !now.Before(entry.expiresAt) {
			delete(s.fixed, key)
		}
	}
	for key, stamps := range s.sliding {
		if len(stamps) == 0 || stamps[len(stamps)-1].Add(s.idleTTL).Before(now) {
			delete(s.sliding, key)
		}
	}
}

// StartJanitor cleans idle state periodically until ctx is done.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context, every time.Duration) {
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

// evict returns stamps newer than cutoff, preserving order.
func evict(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[idx:]...)
}
