// Package badger persists the corpus in an embedded BadgerDB key-value store.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"medkb/pkg/domain"
)

var _ domain.CorpusStore = (*Store)(nil)

const (
	// DefaultPath is used when no directory is configured.
	DefaultPath = "medkb.badger"
	corpusKey   = "corpus/current"
)

// Config configures the Badger backend.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives Badger's internal log lines. Nil silences them.
	Logger *zap.Logger
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	log *zap.SugaredLogger
}

// newBadgerLogger scopes base under "badger".
func newBadgerLogger(base *zap.Logger) *badgerLogger {
	return &badgerLogger{log: base.Named("badger").Sugar()}
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// Store keeps the serialized corpus under a single key.
type Store struct {
	db *badger.DB
}

// NewStore opens the Badger database described by cfg.
func NewStore(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(newBadgerLogger(cfg.Logger))
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Driver names the backend.
func (s *Store) Driver() string { return "badger" }

// Load reads the corpus key.
func (s *Store) Load(_ context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(corpusKey))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrCorpusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return payload, nil
}

// Save writes the corpus key in one transaction.
func (s *Store) Save(_ context.Context, payload []byte) error {
	value := append([]byte(nil), payload...)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(corpusKey), value)
	}); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
