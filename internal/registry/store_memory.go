package registry

import (
	"context"
	"sync"

	"position_guard/internal/core"
)

// MemoryStore implements ISnapshotStore in memory
type MemoryStore struct {
	snap *core.RegistrySnapshot
	mu   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snap: nil,
	}
}

func (s *MemoryStore) Save(ctx context.Context, snap *core.RegistrySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (*core.RegistrySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, nil
}
