package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-memory TTL store for challenges and revoked credentials.
// It is meant for tests and single-instance deployments.
type MemoryStore struct {
	challenges        map[string]memoryEntry
	invalidatedTokens map[string]time.Time
	mu                sync.RWMutex
	now               func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges:        make(map[string]memoryEntry),
		invalidatedTokens: make(map[string]time.Time),
		now:               time.Now,
	}
}

// Issue stores a challenge under a fresh id
func (s *MemoryStore) Issue(ctx context.Context, plaintext string, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	expiresAt := s.now().Add(ttl)

	s.mu.Lock()
	s.challenges[id] = memoryEntry{value: plaintext, expiresAt: expiresAt}
	s.mu.Unlock()

	time.AfterFunc(ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if entry, exists := s.challenges[id]; exists && !entry.expiresAt.After(expiresAt) {
			delete(s.challenges, id)
		}
	})

	return id, nil
}

// Peek returns a live challenge
func (s *MemoryStore) Peek(ctx context.Context, id string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.challenges[id]
	if !exists || !s.now().Before(entry.expiresAt) {
		return "", false, nil
	}

	return entry.value, true, nil
}

// Consume deletes a challenge
func (s *MemoryStore) Consume(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.challenges[id]
	if !exists {
		return false, nil
	}
	delete(s.challenges, id)

	return s.now().Before(entry.expiresAt), nil
}

// InvalidateToken marks a token as invalidated
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiryTime := s.now().Add(expiry)
	s.invalidatedTokens[tokenID] = expiryTime

	time.AfterFunc(expiry, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Only delete if the expiry time hasn't changed
		if storedExpiry, exists := s.invalidatedTokens[tokenID]; exists && !storedExpiry.After(expiryTime) {
			delete(s.invalidatedTokens, tokenID)
		}
	})

	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiryTime, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}

	if s.now().After(expiryTime) {
		return false, nil
	}

	return true, nil
}
