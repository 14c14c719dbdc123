package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	fingerprint string
	done        bool
	stored      StoredResponse
	claimedAt   time.Time
	expiresAt   time.Time
}

// MemoryStore keeps claims in a process-local map. It backs tests and
// local development where no Firestore is available.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.DocID()
	entry, ok := s.entries[id]
	if !ok || expiredAt(entry.expiresAt, now) {
		s.entries[id] = memoryEntry{
			fingerprint: key.Fingerprint,
			claimedAt:   now,
			expiresAt:   now.Add(ttl),
		}
		return Claim{Outcome: OutcomeProceed}, nil
	}

	if entry.fingerprint != key.Fingerprint {
		return Claim{}, ErrKeyReused
	}
	if entry.done {
		return Claim{Outcome: OutcomeReplay, Stored: entry.stored}, nil
	}
	return Claim{Outcome: OutcomeInFlight}, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key Key, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.DocID()
	entry, ok := s.entries[id]
	if ok && entry.fingerprint != key.Fingerprint {
		return ErrKeyReused
	}
	if !ok {
		entry = memoryEntry{fingerprint: key.Fingerprint, claimedAt: now}
	}

	resp.SavedAt = now
	resp.ExpiresAt = now.Add(ttl)
	if len(resp.Body) > 0 {
		resp.Body = append([]byte(nil), resp.Body...)
	}
	entry.done = true
	entry.stored = resp
	entry.expiresAt = resp.ExpiresAt
	s.entries[id] = entry
	return nil
}

// Forget implements Store.
func (s *MemoryStore) Forget(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key.DocID())
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}

	removed := 0
	for id, entry := range s.entries {
		if !expiredAt(entry.expiresAt, now) {
			continue
		}
		delete(s.entries, id)
		removed++
		if removed >= limit {
			break
		}
	}
	return removed, nil
}
