package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"medkb/pkg/domain"
)

// KnowledgeStore is an immutable snapshot of a knowledge base with prebuilt
// lookup indexes and the validation report computed when it was built.
// Accessors return copies; nothing mutates a store after construction.
type KnowledgeStore struct {
	kb           KnowledgeBase
	engine       *RulesEngine
	source       string
	parse        parseState
	symptoms     []string
	symptomSet   map[string]struct{}
	registry     bool
	diseaseIndex map[string]int
	bySymptom    map[string][]string
	byDisease    map[string][]int
	report       ValidationReport
	loadedAt     time.Time
	loadDuration time.Duration
}

// StoreSummary is the externally observable summary of a loaded store.
type StoreSummary struct {
	Source       string        `json:"source,omitempty"`
	Version      string        `json:"version"`
	LastUpdated  string        `json:"last_updated"`
	LoadedAt     time.Time     `json:"loaded_at"`
	LoadDuration time.Duration `json:"load_duration_ns"`
	Status       string        `json:"status"`
	Errors       int           `json:"errors"`
	Warnings     int           `json:"warnings"`
	Diseases     int           `json:"diseases"`
	Rules        int           `json:"rules"`
	Symptoms     int           `json:"symptoms"`
	Unparsed     int           `json:"unparsed"`
}

type storeConfig struct {
	engine *RulesEngine
	now    func() time.Time
	source string
	parse  parseState
}

// StoreOption configures store construction.
type StoreOption func(*storeConfig)

// WithStoreRulesEngine overrides the consistency checks evaluated at build time.
func WithStoreRulesEngine(engine *RulesEngine) StoreOption {
	return func(c *storeConfig) {
		if engine != nil {
			c.engine = engine
		}
	}
}

// WithStoreClock overrides the clock used for report timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSource labels the store with the name of the document it came from.
func WithSource(source string) StoreOption {
	return func(c *storeConfig) { c.source = source }
}

func withParseState(state parseState) StoreOption {
	return func(c *storeConfig) { c.parse = state }
}

func newStoreConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{
		engine: NewDefaultRulesEngine(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Load parses payload and builds a validated store. It fails only when the
// payload is not a structured document at all; every other problem is carried
// in the store's report.
func Load(ctx context.Context, payload []byte, opts ...StoreOption) (*KnowledgeStore, error) {
	cfg := newStoreConfig(opts)
	started := cfg.now()
	kb, state, err := decodeDocument(payload, cfg.source)
	if err != nil {
		return nil, err
	}
	store, err := NewKnowledgeStore(ctx, kb, append(opts, withParseState(state))...)
	if err != nil {
		return nil, err
	}
	store.loadedAt = started
	store.loadDuration = cfg.now().Sub(started)
	return store, nil
}

// NewKnowledgeStore builds a store from an in-memory knowledge base. The
// knowledge base is copied.
func NewKnowledgeStore(ctx context.Context, kb KnowledgeBase, opts ...StoreOption) (*KnowledgeStore, error) {
	cfg := newStoreConfig(opts)
	s := buildIndexes(kb.Clone())
	s.engine = cfg.engine
	s.source = cfg.source
	s.parse = cfg.parse
	s.loadedAt = cfg.now()
	report, err := evaluate(ctx, cfg.engine, s, cfg.now())
	if err != nil {
		return nil, err
	}
	s.report = report
	return s, nil
}

// evaluate combines parse-boundary violations with the engine checks.
func evaluate(ctx context.Context, engine *RulesEngine, s *KnowledgeStore, at time.Time) (ValidationReport, error) {
	var combined Result
	combined.Merge(s.parse.result())
	res, err := engine.Evaluate(ctx, s)
	if err != nil {
		return ValidationReport{}, err
	}
	combined.Merge(res)
	return domain.NewValidationReport(combined, at), nil
}

func buildIndexes(kb KnowledgeBase) *KnowledgeStore {
	s := &KnowledgeStore{
		kb:           kb,
		symptomSet:   make(map[string]struct{}),
		diseaseIndex: make(map[string]int, len(kb.Diseases)),
		bySymptom:    make(map[string][]string),
		byDisease:    make(map[string][]int),
	}
	addSymptom := func(sym string) {
		if _, ok := s.symptomSet[sym]; ok {
			return
		}
		s.symptomSet[sym] = struct{}{}
		s.symptoms = append(s.symptoms, sym)
	}
	if kb.Facts != nil {
		s.registry = true
		for _, sym := range domain.CanonicalSet(kb.Facts.Symptoms) {
			addSymptom(sym)
		}
	} else {
		for _, sym := range derivedSymptoms(kb) {
			addSymptom(sym)
		}
	}
	for i, d := range kb.Diseases {
		if _, dup := s.diseaseIndex[d.ID]; !dup {
			s.diseaseIndex[d.ID] = i
		}
		for _, sym := range domain.CanonicalSet(d.Symptoms) {
			if !containsString(s.bySymptom[sym], d.ID) {
				s.bySymptom[sym] = append(s.bySymptom[sym], d.ID)
			}
		}
	}
	for i, r := range kb.Rules {
		s.byDisease[r.ThenDiseaseID] = append(s.byDisease[r.ThenDiseaseID], i)
	}
	return s
}

// derivedSymptoms collects every referenced symptom in persisted order. It stands
// in for the registry when the facts section is absent.
func derivedSymptoms(kb KnowledgeBase) []string {
	var all []string
	for _, d := range kb.Diseases {
		all = append(all, d.Symptoms...)
	}
	for _, r := range kb.Rules {
		all = append(all, r.IfSymptoms...)
	}
	return domain.CanonicalSet(all)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// KnowledgeBase returns a deep copy of the underlying corpus.
func (s *KnowledgeStore) KnowledgeBase() KnowledgeBase { return s.kb.Clone() }

// Metadata returns the corpus metadata.
func (s *KnowledgeStore) Metadata() Metadata { return s.kb.Metadata }

// Source returns the document label the store was loaded from.
func (s *KnowledgeStore) Source() string { return s.source }

// Report returns the validation report computed when the store was built.
func (s *KnowledgeStore) Report() ValidationReport {
	r := s.report
	r.Errors = append([]Violation{}, s.report.Errors...)
	r.Warnings = append([]Violation{}, s.report.Warnings...)
	return r
}

// Unparsed returns the records that failed the parse boundary and are carried
// verbatim until an edit replaces them.
func (s *KnowledgeStore) Unparsed() []UnparsedRecord {
	out := make([]UnparsedRecord, 0, len(s.parse.records))
	for _, r := range s.parse.records {
		out = append(out, r.clone())
	}
	return out
}

// Valid reports whether the store has no outstanding validation errors.
func (s *KnowledgeStore) Valid() bool { return s.report.Valid() }

// HasRegistry reports whether the corpus carries an explicit facts section.
func (s *KnowledgeStore) HasRegistry() bool { return s.registry }

// Symptoms returns the canonical symptom registry in persisted order.
func (s *KnowledgeStore) Symptoms() []string {
	return append([]string{}, s.symptoms...)
}

// HasSymptom reports whether the canonical form of name is registered.
func (s *KnowledgeStore) HasSymptom(name string) bool {
	_, ok := s.symptomSet[domain.Normalize(name)]
	return ok
}

// Disease returns the disease with id.
func (s *KnowledgeStore) Disease(id string) (Disease, error) {
	i, ok := s.diseaseIndex[id]
	if !ok {
		return Disease{}, NotFoundError{Entity: EntityDisease, ID: id}
	}
	return s.kb.Diseases[i].Clone(), nil
}

// Diseases returns every disease in persisted order.
func (s *KnowledgeStore) Diseases() []Disease {
	out := make([]Disease, 0, len(s.kb.Diseases))
	for _, d := range s.kb.Diseases {
		out = append(out, d.Clone())
	}
	return out
}

// DiseasesBySymptom returns the diseases whose symptom list contains the
// canonical form of symptom.
func (s *KnowledgeStore) DiseasesBySymptom(symptom string) []Disease {
	ids := s.bySymptom[domain.Normalize(symptom)]
	out := make([]Disease, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.kb.Diseases[s.diseaseIndex[id]].Clone())
	}
	return out
}

// RulesForDisease returns the rules concluding id in persisted order.
func (s *KnowledgeStore) RulesForDisease(id string) []Rule {
	idx := s.byDisease[id]
	out := make([]Rule, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.kb.Rules[i].Clone())
	}
	return out
}

// AllRules returns every rule in persisted order.
func (s *KnowledgeStore) AllRules() []Rule {
	out := make([]Rule, 0, len(s.kb.Rules))
	for _, r := range s.kb.Rules {
		out = append(out, r.Clone())
	}
	return out
}

// Rule returns the rule with id.
func (s *KnowledgeStore) Rule(id string) (Rule, error) {
	for _, r := range s.kb.Rules {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return Rule{}, NotFoundError{Entity: EntityRule, ID: id}
}

// SearchDiseasesByName returns diseases whose name contains query, ignoring case,
// ordered by name. An empty query matches everything.
func (s *KnowledgeStore) SearchDiseasesByName(query string) []Disease {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Disease
	for _, d := range s.kb.Diseases {
		if q == "" || strings.Contains(strings.ToLower(d.Name), q) {
			out = append(out, d.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	if out == nil {
		out = []Disease{}
	}
	return out
}

// Summary returns the load summary of the store.
func (s *KnowledgeStore) Summary() StoreSummary {
	return StoreSummary{
		Source:       s.source,
		Version:      s.kb.Metadata.Version,
		LastUpdated:  s.kb.Metadata.LastUpdated,
		LoadedAt:     s.loadedAt,
		LoadDuration: s.loadDuration,
		Status:       s.report.Status(),
		Errors:       len(s.report.Errors),
		Warnings:     len(s.report.Warnings),
		Diseases:     len(s.kb.Diseases),
		Rules:        len(s.kb.Rules),
		Symptoms:     len(s.symptoms),
		Unparsed:     len(s.parse.records),
	}
}

// Validate re-runs the consistency checks over store and returns a fresh report.
// Parse-boundary violations recorded at load time are carried over.
func Validate(ctx context.Context, store *KnowledgeStore, opts ...StoreOption) (ValidationReport, error) {
	cfg := newStoreConfig(append([]StoreOption{WithStoreRulesEngine(store.engine)}, opts...))
	return evaluate(ctx, cfg.engine, store, cfg.now())
}
