// Package memory keeps mirrored artifacts in process memory. It backs the
// "memory" storage backend used for dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
)

// Store implements storage.Provider in memory.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Save keeps a copy of data under objectName.
func (s *Store) Save(_ context.Context, objectName string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[objectName] = append([]byte(nil), data...)
	return nil
}

// Get returns the stored object.
func (s *Store) Get(objectName string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[objectName]
	return b, ok
}

// Names lists stored object names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
