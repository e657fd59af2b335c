// Package memory holds the corpus in process memory. It backs tests and
// ephemeral servers.
package memory

import (
	"context"
	"sync"

	"medkb/pkg/domain"
)

var _ domain.CorpusStore = (*Store)(nil)

// Store keeps a copy of the last saved payload.
type Store struct {
	mu      sync.RWMutex
	payload []byte
	saves   int
}

// NewStore returns an empty store; seed may be nil.
func NewStore(seed []byte) *Store {
	s := &Store{}
	if seed != nil {
		s.payload = append([]byte(nil), seed...)
	}
	return s
}

// Driver names the backend.
func (s *Store) Driver() string { return "memory" }

// Load returns a copy of the stored payload.
func (s *Store) Load(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.payload == nil {
		return nil, domain.ErrCorpusNotFound
	}
	return append([]byte(nil), s.payload...), nil
}

// Save replaces the stored payload.
func (s *Store) Save(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = append([]byte(nil), payload...)
	s.saves++
	return nil
}

// Saves reports how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
