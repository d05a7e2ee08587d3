package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/convoloop/types"
)

// MemoryStore is an in-process snapshot store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	snaps  map[string]*types.Snapshot
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*types.Snapshot)}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *types.Snapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.snaps[snap.SessionID] = snap.Clone()
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, sessionID string) (*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	snap, ok := s.snaps[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteSnapshot(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.snaps[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.snaps, sessionID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.snaps = nil
	return nil
}
