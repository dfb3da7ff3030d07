// Package noop provides a result store that discards rows. It stands in
// when no analytical database is configured.
package noop

import (
	"context"

	"github.com/beaconaudit/beacon/internal/audit"
)

// Store discards run records.
type Store struct{}

// New creates a new Store.
func New() *Store {
	return &Store{}
}

// RecordRun drops the record.
func (Store) RecordRun(_ context.Context, _ audit.RunRecord) error {
	return nil
}
