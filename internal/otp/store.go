package otp

import (
	"context"
	"sync"
	"time"
)

// Store holds pending challenges by key.
//
// ttl passed to Set is a retention hint for reclaiming abandoned entries; the
// Registry decides expiry itself from Challenge.ExpiresAt.
type Store interface {
	Get(ctx context.Context, key string) (Challenge, error)
	Set(ctx context.Context, key string, challenge Challenge, ttl time.Duration) error
	// CompareAndDelete removes the entry only if it still equals challenge.
	// It reports whether an entry was removed.
	CompareAndDelete(ctx context.Context, key string, challenge Challenge) (bool, error)
	// CompareAndSwap replaces the entry with next only if it still equals old.
	CompareAndSwap(ctx context.Context, key string, old, next Challenge, ttl time.Duration) (bool, error)
}

// pruneScan bounds how many entries a MemoryStore write inspects for reclaiming.
const pruneScan = 16

type memoryEntry struct {
	challenge Challenge
	retainTil time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	if !entry.retainTil.IsZero() && s.now().After(entry.retainTil) {
		delete(s.entries, key)
		return Challenge{}, ErrNotFound
	}
	return entry.challenge, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, challenge Challenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)
	s.entries[key] = newMemoryEntry(challenge, ttl, now)
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, key string, old, next Challenge, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.challenge.Equal(old) {
		return false, nil
	}
	s.entries[key] = newMemoryEntry(next, ttl, s.now())
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key string, challenge Challenge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.challenge.Equal(challenge) {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// prune drops up to pruneScan entries past retention, so keys that are
// never read again do not accumulate. Must be called with mu held.
func (s *MemoryStore) prune(now time.Time) {
	scanned := 0
	for key, entry := range s.entries {
		if scanned == pruneScan {
			return
		}
		scanned++
		if !entry.retainTil.IsZero() && now.After(entry.retainTil) {
			delete(s.entries, key)
		}
	}
}

func newMemoryEntry(challenge Challenge, ttl time.Duration, now time.Time) memoryEntry {
	entry := memoryEntry{challenge: challenge}
	if ttl > 0 {
		entry.retainTil = now.Add(ttl)
	}
	return entry
}

// Len returns the number of retained entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
