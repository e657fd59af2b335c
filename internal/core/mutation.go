package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotLoaded is returned when an operation needs a snapshot before Load ran.
var ErrNotLoaded = errors.New("knowledge base not loaded")

// MutationResult describes an accepted mutation.
type MutationResult struct {
	Changes []Change         `json:"changes"`
	Report  ValidationReport `json:"report"`
	Summary StoreSummary     `json:"summary"`
}

// MutationManager owns the current snapshot and serializes writers. Readers take
// the snapshot pointer without locking; writers hold the mutex across
// apply, validate, persist and swap.
type MutationManager struct {
	mu         sync.Mutex
	current    atomic.Pointer[KnowledgeStore]
	corpus     CorpusStore
	engine     *RulesEngine
	now        func() time.Time
	rulePrefix string
	source     string
}

// MutationOption configures a MutationManager.
type MutationOption func(*MutationManager)

// WithManagerRulesEngine overrides the consistency checks.
func WithManagerRulesEngine(engine *RulesEngine) MutationOption {
	return func(m *MutationManager) {
		if engine != nil {
			m.engine = engine
		}
	}
}

// WithManagerClock overrides the clock used for timestamps.
func WithManagerClock(now func() time.Time) MutationOption {
	return func(m *MutationManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRulePrefix overrides the prefix of auto-assigned rule ids.
func WithRulePrefix(prefix string) MutationOption {
	return func(m *MutationManager) {
		if prefix != "" {
			m.rulePrefix = prefix
		}
	}
}

// NewMutationManager constructs a manager persisting through corpus.
func NewMutationManager(corpus CorpusStore, opts ...MutationOption) *MutationManager {
	m := &MutationManager{
		corpus:     corpus,
		engine:     NewDefaultRulesEngine(),
		now:        func() time.Time { return time.Now().UTC() },
		rulePrefix: DefaultRulePrefix,
		source:     corpus.Driver(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MutationManager) storeOptions() []StoreOption {
	return []StoreOption{WithStoreRulesEngine(m.engine), WithStoreClock(m.now), WithSource(m.source)}
}

// Load reads the corpus from its store and installs it as the current snapshot.
// An invalid corpus still loads so it can be inspected and repaired.
func (m *MutationManager) Load(ctx context.Context) (*KnowledgeStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, err := m.corpus.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus from %s: %w", m.source, err)
	}
	store, err := Load(ctx, payload, m.storeOptions()...)
	if err != nil {
		return nil, err
	}
	m.current.Store(store)
	return store, nil
}

// Import replaces the corpus with payload. The payload must parse; it is
// persisted as given and then installed, even when it carries validation errors.
func (m *MutationManager) Import(ctx context.Context, payload []byte) (*KnowledgeStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, err := Load(ctx, payload, m.storeOptions()...)
	if err != nil {
		return nil, err
	}
	if err := m.corpus.Save(ctx, payload); err != nil {
		return nil, fmt.Errorf("persist corpus: %w", err)
	}
	m.current.Store(store)
	return store, nil
}

// Snapshot returns the current snapshot.
func (m *MutationManager) Snapshot() (*KnowledgeStore, error) {
	store := m.current.Load()
	if store == nil {
		return nil, ErrNotLoaded
	}
	return store, nil
}

// RunInTransaction applies fn to a working copy of the current snapshot. The
// copy is validated and rejected when it carries any error the current
// snapshot does not; otherwise it is persisted and swapped in. Errors returned
// by fn abort the transaction unchanged. A transaction that records no change
// is a no-op.
//
// Records that failed the parse boundary are written back verbatim and keep
// their violations until the transaction edits or deletes them. Section-level
// violations are cleared because every section is rewritten; a corpus whose
// sections could not be decoded at all refuses mutations.
func (m *MutationManager) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) (MutationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.current.Load()
	if base == nil {
		return MutationResult{}, ErrNotLoaded
	}
	if base.parse.blocked {
		return MutationResult{}, MutationRejectedError{
			Reason: "a corpus section failed to parse; import a repaired document",
			Report: base.Report(),
		}
	}
	now := m.now()
	tx := newTransaction(base.kb.Clone(), base.Unparsed(), now, m.rulePrefix)
	if err := fn(tx); err != nil {
		return MutationResult{}, err
	}
	if len(tx.changes) == 0 {
		return MutationResult{Report: base.Report(), Summary: base.Summary()}, nil
	}
	tx.kb.Metadata.LastUpdated = now.Format(time.RFC3339)

	opts := append(m.storeOptions(), withParseState(parseState{records: tx.unparsed}))
	next, err := NewKnowledgeStore(ctx, tx.kb, opts...)
	if err != nil {
		return MutationResult{}, err
	}
	if introduced := next.report.IntroducedErrors(base.report); len(introduced) > 0 {
		return MutationResult{}, MutationRejectedError{
			Reason:     "validation failed",
			Report:     next.Report(),
			Introduced: introduced,
		}
	}
	payload, err := encodeDocument(tx.kb, tx.unparsed)
	if err != nil {
		return MutationResult{}, err
	}
	if err := m.corpus.Save(ctx, payload); err != nil {
		return MutationResult{}, fmt.Errorf("persist corpus: %w", err)
	}
	next.loadedAt = base.loadedAt
	next.loadDuration = base.loadDuration
	m.current.Store(next)
	return MutationResult{Changes: tx.Changes(), Report: next.Report(), Summary: next.Summary()}, nil
}

// Close releases the corpus store.
func (m *MutationManager) Close() error { return m.corpus.Close() }
