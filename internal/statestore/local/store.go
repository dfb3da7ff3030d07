// Package local persists the event state table as a JSON file on disk.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beaconaudit/beacon/internal/audit"
)

// Store reads and writes the whole table as one JSON file.
type Store struct {
	path string
}

// New creates a Store writing to the given file path.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{path: path}, nil
}

// LoadTable reads and decodes the table. A missing or corrupt file is
// returned as an error; the gate treats load errors as an empty table.
func (s *Store) LoadTable(_ context.Context) (audit.EventStateTable, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var table audit.EventStateTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	return table, nil
}

// SaveTable encodes and writes the table atomically via a temp file rename.
func (s *Store) SaveTable(_ context.Context, table audit.EventStateTable) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode state table: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
