package labmodular

import (
	"context"
	"sync"
)

// StatusStore persists status variable representations keyed by
// (module name, status variable name). LoadStatus returns an empty map for a
// module that has never been saved.
type StatusStore interface {
	LoadStatus(ctx context.Context, module string) (map[string]any, error)
	SaveStatus(ctx context.Context, module string, values map[string]any) error
}

// MemoryStatusStore keeps representations in process memory. It is the
// registry default and is useful in tests.
type MemoryStatusStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemoryStatusStore creates an empty in-memory store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{data: make(map[string]map[string]any)}
}

func (s *MemoryStatusStore) LoadStatus(_ context.Context, module string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMap(s.data[module]), nil
}

func (s *MemoryStatusStore) SaveStatus(_ context.Context, module string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[module] = cloneMap(values)
	return nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}
