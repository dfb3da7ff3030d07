// Package memory contains an in-memory message sink for tests and local runs.
package memory

import (
	"context"
	"sync"
)

// Sink stores published payloads for inspection.
type Sink struct {
	mu       sync.RWMutex
	payloads [][]byte
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// Publish records the payload.
func (s *Sink) Publish(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

// Payloads returns the recorded publishes.
func (s *Sink) Payloads() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}
