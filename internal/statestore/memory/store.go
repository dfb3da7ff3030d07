// Package memory holds the event state table in-memory for development.
package memory

import (
	"context"
	"sync"

	"github.com/beaconaudit/beacon/internal/audit"
)

// Store keeps the event state table in process memory.
type Store struct {
	mu    sync.RWMutex
	table audit.EventStateTable
}

// New creates an empty Store.
func New() *Store {
	return &Store{table: make(audit.EventStateTable)}
}

// LoadTable returns a copy of the stored table.
func (s *Store) LoadTable(_ context.Context) (audit.EventStateTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make(audit.EventStateTable, len(s.table))
	for k, v := range s.table {
		copied[k] = v
	}
	return copied, nil
}

// SaveTable replaces the stored table.
func (s *Store) SaveTable(_ context.Context, table audit.EventStateTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(audit.EventStateTable, len(table))
	for k, v := range table {
		copied[k] = v
	}
	s.table = copied
	return nil
}
