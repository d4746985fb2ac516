package history

import (
	"context"
	"sync"

	"companion/pkg/types"
)

// memoryStore keeps history in process memory. The default for development
// and tests; history does not survive a restart.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string][]types.HistoryEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entries: make(map[string][]types.HistoryEntry),
	}
}

// Save replaces the stored history for a client identity.
func (s *memoryStore) Save(_ context.Context, clientID string, history []types.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		return ErrStoreClosed
	}

	// Copy so later caller mutations never leak into the store.
	stored := make([]types.HistoryEntry, len(history))
	copy(stored, history)
	s.entries[clientID] = stored
	return nil
}

// Load retrieves stored history; a missing key returns (nil, nil).
func (s *memoryStore) Load(_ context.Context, clientID string) ([]types.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entries == nil {
		return nil, ErrStoreClosed
	}

	stored, exists := s.entries[clientID]
	if !exists {
		return nil, nil
	}
	out := make([]types.HistoryEntry, len(stored))
	copy(out, stored)
	return out, nil
}

// Delete removes stored history.
func (s *memoryStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		return ErrStoreClosed
	}

	delete(s.entries, clientID)
	return nil
}

// Close releases the store.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}
