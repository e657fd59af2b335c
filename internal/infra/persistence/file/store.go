// Package file persists the knowledge corpus as a single JSON document on disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"medkb/pkg/domain"
)

var _ domain.CorpusStore = (*Store)(nil)

// DefaultPath is used when no corpus path is configured.
const DefaultPath = "data/knowledge_base.json"

// Store reads and writes the corpus document at a fixed path.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a file-backed corpus store. The file need not exist yet.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the configured document path.
func (s *Store) Path() string { return s.path }

// Driver names the backend.
func (s *Store) Driver() string { return "file" }

// Load returns the document bytes.
func (s *Store) Load(_ context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", s.path, domain.ErrCorpusNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return b, nil
}

// Save writes payload to a sibling temp file and renames it over the document.
func (s *Store) Save(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace corpus: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
