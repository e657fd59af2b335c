// Package blobcorpus keeps the corpus as an append-only series of revisions in
// a blob store. Every Save writes a new object and Load returns the newest one.
package blobcorpus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"medkb/internal/blob"
	"medkb/pkg/domain"
)

var _ domain.CorpusStore = (*Store)(nil)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "corpus/"

// Store maps corpus revisions onto blob keys of the form prefix + %020d.json.
type Store struct {
	blobs  blob.Store
	prefix string
	retain int
	mu     sync.Mutex
}

// Option configures the store.
type Option func(*Store)

// WithRetain keeps only the newest n revisions after each Save. Zero keeps all.
func WithRetain(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retain = n
		}
	}
}

// NewStore wraps a blob store.
func NewStore(blobs blob.Store, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &Store{blobs: blobs, prefix: prefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver names the backend.
func (s *Store) Driver() string { return "blob/" + string(s.blobs.Driver()) }

// Revisions lists revision keys oldest first.
func (s *Store) Revisions(ctx context.Context) ([]blob.Info, error) {
	infos, err := s.blobs.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if _, ok := s.revision(info.Key); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// Load returns the newest revision.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	revs, err := s.Revisions(ctx)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, domain.ErrCorpusNotFound
	}
	_, rc, err := s.blobs.Get(ctx, revs[len(revs)-1].Key)
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// Save writes the next revision and prunes old ones when retention is set.
func (s *Store) Save(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	revs, err := s.Revisions(ctx)
	if err != nil {
		return err
	}
	next := int64(1)
	if len(revs) > 0 {
		last, _ := s.revision(revs[len(revs)-1].Key)
		next = last + 1
	}
	key := fmt.Sprintf("%s%020d.json", s.prefix, next)
	meta := map[string]string{"revision": strconv.FormatInt(next, 10)}
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json", Metadata: meta}); err != nil {
		if errors.Is(err, blob.ErrExists) {
			return fmt.Errorf("revision %d written concurrently: %w", next, err)
		}
		return fmt.Errorf("put revision: %w", err)
	}
	if s.retain == 0 {
		return nil
	}
	revs = append(revs, blob.Info{Key: key})
	for i := 0; i < len(revs)-s.retain; i++ {
		if _, err := s.blobs.Delete(ctx, revs[i].Key); err != nil {
			return fmt.Errorf("prune revision %s: %w", revs[i].Key, err)
		}
	}
	return nil
}

// Close is a no-op; the blob store is owned by the caller.
func (s *Store) Close() error { return nil }

func (s *Store) revision(key string) (int64, bool) {
	name := strings.TrimPrefix(key, s.prefix)
	if name == key || !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
