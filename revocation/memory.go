package revocation

import (
	"context"
	"sync"
)

// MemoryStore is the single-process implementation of [Store]. A mutex
// around the whole operation gives the same single-winner rotation
// guarantee the Redis Lua scripts provide.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]Record
	bySubject map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]Record),
		bySubject: make(map[string]map[string]struct{}),
	}
}

// Put creates or replaces the record for rec.TokenID.
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.TokenID] = rec
	s.index(rec.SubjectID, rec.TokenID)
	return nil
}

// Get returns the record for tokenID or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, tokenID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Rotate validates, stamps, and replaces under one lock acquisition.
func (s *MemoryStore) Rotate(_ context.Context, tokenID, subjectID string, next Record) error {
	now := nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok || rec.SubjectID != subjectID {
		return ErrNotFound
	}
	if rec.Expired(now) {
		delete(s.records, tokenID)
		s.unindex(rec.SubjectID, tokenID)
		return ErrExpired
	}
	if rec.Revoked() {
		return ErrRevoked
	}

	rec.RevokedAt = now
	s.records[tokenID] = rec

	s.records[next.TokenID] = next
	s.index(next.SubjectID, next.TokenID)
	return nil
}

// MarkRevoked stamps the record if it is live. Idempotent.
func (s *MemoryStore) MarkRevoked(_ context.Context, tokenID string) (bool, error) {
	now := nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok || rec.Revoked() {
		return false, nil
	}
	rec.RevokedAt = now
	s.records[tokenID] = rec
	return true, nil
}

// MarkAllRevokedForSubject stamps every live record for the subject.
func (s *MemoryStore) MarkAllRevokedForSubject(_ context.Context, subjectID string) (int, error) {
	now := nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	var stamped int
	for tokenID := range s.bySubject[subjectID] {
		rec, ok := s.records[tokenID]
		if !ok || rec.Revoked() {
			continue
		}
		rec.RevokedAt = now
		s.records[tokenID] = rec
		stamped++
	}
	return stamped, nil
}

// ListActive returns the subject's usable records.
func (s *MemoryStore) ListActive(_ context.Context, subjectID string) ([]Record, error) {
	now := nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(s.bySubject[subjectID]))
	for tokenID := range s.bySubject[subjectID] {
		rec, ok := s.records[tokenID]
		if !ok {
			continue
		}
		if rec.Usable(now) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// SweepExpired deletes expired records and their index entries.
func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	var cleaned int
	for tokenID, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, tokenID)
			s.unindex(rec.SubjectID, tokenID)
			cleaned++
		}
	}
	return cleaned, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) index(subjectID, tokenID string) {
	set, ok := s.bySubject[subjectID]
	if !ok {
		set = make(map[string]struct{})
		s.bySubject[subjectID] = set
	}
	set[tokenID] = struct{}{}
}

func (s *MemoryStore) unindex(subjectID, tokenID string) {
	set, ok := s.bySubject[subjectID]
	if !ok {
		return
	}
	delete(set, tokenID)
	if len(set) == 0 {
		delete(s.bySubject, subjectID)
	}
}
