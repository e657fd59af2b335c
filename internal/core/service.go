package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchLimit bounds concurrent inferences in InferBatch.
const DefaultBatchLimit = 8

// Service exposes inference, validation and transactional CRUD over the
// knowledge base, with logging, metrics, tracing and the search-history side
// channel wired around each operation.
type Service struct {
	manager    *MutationManager
	logger     *zap.Logger
	metrics    MetricsRecorder
	tracer     Tracer
	history    HistoryRecorder
	now        func() time.Time
	batchLimit int
}

type serviceConfig struct {
	logger     *zap.Logger
	metrics    MetricsRecorder
	tracer     Tracer
	history    HistoryRecorder
	now        func() time.Time
	batchLimit int
	manager    []MutationOption
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceConfig)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(c *serviceConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(c *serviceConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t Tracer) ServiceOption {
	return func(c *serviceConfig) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithHistory sets the search-history recorder. Without one nothing is recorded.
func WithHistory(h HistoryRecorder) ServiceOption {
	return func(c *serviceConfig) { c.history = h }
}

// WithClock overrides the clock for timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(c *serviceConfig) {
		if now != nil {
			c.now = now
			c.manager = append(c.manager, WithManagerClock(now))
		}
	}
}

// WithRulesEngine overrides the consistency checks.
func WithRulesEngine(engine *RulesEngine) ServiceOption {
	return func(c *serviceConfig) {
		c.manager = append(c.manager, WithManagerRulesEngine(engine))
	}
}

// WithServiceRulePrefix overrides the prefix of auto-assigned rule ids.
func WithServiceRulePrefix(prefix string) ServiceOption {
	return func(c *serviceConfig) {
		c.manager = append(c.manager, WithRulePrefix(prefix))
	}
}

// WithBatchLimit bounds InferBatch parallelism.
func WithBatchLimit(n int) ServiceOption {
	return func(c *serviceConfig) {
		if n > 0 {
			c.batchLimit = n
		}
	}
}

// NewService constructs a service persisting through corpus. Call Load or
// Import before anything else.
func NewService(corpus CorpusStore, opts ...ServiceOption) *Service {
	cfg := serviceConfig{
		logger:     zap.NewNop(),
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		now:        func() time.Time { return time.Now().UTC() },
		batchLimit: DefaultBatchLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		manager:    NewMutationManager(corpus, cfg.manager...),
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		tracer:     cfg.tracer,
		history:    cfg.history,
		now:        cfg.now,
		batchLimit: cfg.batchLimit,
	}
}

// Manager returns the underlying mutation manager.
func (s *Service) Manager() *MutationManager { return s.manager }

// observe wraps fn with a span and a metrics observation.
func (s *Service) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	return err
}

func (s *Service) installed(store *KnowledgeStore) {
	if obs, ok := s.metrics.(ReportObserver); ok {
		obs.ObserveReport(store.Summary())
	}
}

func (s *Service) logSummary(msg string, summary StoreSummary) {
	s.logger.Info(msg,
		zap.String("source", summary.Source),
		zap.String("version", summary.Version),
		zap.String("status", summary.Status),
		zap.Int("errors", summary.Errors),
		zap.Int("warnings", summary.Warnings),
		zap.Int("diseases", summary.Diseases),
		zap.Int("rules", summary.Rules),
		zap.Int("symptoms", summary.Symptoms),
		zap.Duration("load_duration", summary.LoadDuration),
	)
}

// Load reads the corpus from storage and installs it.
func (s *Service) Load(ctx context.Context) (StoreSummary, error) {
	return s.load(ctx, "load")
}

// Reload re-reads the corpus from storage and swaps the snapshot.
func (s *Service) Reload(ctx context.Context) (StoreSummary, error) {
	return s.load(ctx, "reload")
}

func (s *Service) load(ctx context.Context, op string) (StoreSummary, error) {
	var summary StoreSummary
	err := s.observe(ctx, op, func(ctx context.Context) error {
		store, err := s.manager.Load(ctx)
		if err != nil {
			return err
		}
		summary = store.Summary()
		s.installed(store)
		return nil
	})
	if err != nil {
		s.logger.Error("knowledge base load failed", zap.String("operation", op), zap.Error(err))
		return StoreSummary{}, err
	}
	s.logSummary("knowledge base loaded", summary)
	return summary, nil
}

// Import replaces the corpus with payload and installs it.
func (s *Service) Import(ctx context.Context, payload []byte) (StoreSummary, error) {
	var summary StoreSummary
	err := s.observe(ctx, "import", func(ctx context.Context) error {
		store, err := s.manager.Import(ctx, payload)
		if err != nil {
			return err
		}
		summary = store.Summary()
		s.installed(store)
		return nil
	})
	if err != nil {
		s.logger.Error("knowledge base import failed", zap.Error(err))
		return StoreSummary{}, err
	}
	s.logSummary("knowledge base imported", summary)
	return summary, nil
}

// Snapshot returns the current snapshot.
func (s *Service) Snapshot() (*KnowledgeStore, error) { return s.manager.Snapshot() }

// Summary returns the summary of the current snapshot.
func (s *Service) Summary() (StoreSummary, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return StoreSummary{}, err
	}
	return store.Summary(), nil
}

// Validate re-runs the consistency checks over the current snapshot.
func (s *Service) Validate(ctx context.Context) (ValidationReport, error) {
	var report ValidationReport
	err := s.observe(ctx, "validate", func(ctx context.Context) error {
		store, err := s.manager.Snapshot()
		if err != nil {
			return err
		}
		report, err = Validate(ctx, store)
		return err
	})
	if err != nil {
		return ValidationReport{}, err
	}
	s.logger.Debug("validation complete",
		zap.String("status", report.Status()),
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)),
	)
	return report, nil
}

// Infer ranks candidate diseases for symptoms over the current snapshot.
func (s *Service) Infer(ctx context.Context, symptoms []string) ([]Suggestion, error) {
	var out []Suggestion
	err := s.observe(ctx, "infer", func(ctx context.Context) error {
		store, err := s.manager.Snapshot()
		if err != nil {
			return err
		}
		out, err = s.infer(ctx, store, symptoms)
		return err
	})
	return out, err
}

func (s *Service) infer(ctx context.Context, store *KnowledgeStore, symptoms []string) ([]Suggestion, error) {
	out, err := NewForwardChainer(store).Infer(symptoms)
	s.record(ctx, store, symptoms, out, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// record forwards an inference to the history recorder. Failures are logged
// and never surface to the caller.
func (s *Service) record(ctx context.Context, store *KnowledgeStore, symptoms []string, out []Suggestion, inferErr error) {
	if s.history == nil {
		return
	}
	entry := NewHistoryEntry(s.now(), symptoms, out, store.Metadata().Version, inferErr)
	if err := s.history.Record(ctx, entry); err != nil {
		s.logger.Warn("history record failed", zap.String("entry", entry.ID), zap.Error(err))
	}
}

// InferBatch runs independent inferences over one snapshot with bounded
// parallelism. Results are positionally aligned with batches; the first
// failure cancels the remainder.
func (s *Service) InferBatch(ctx context.Context, batches [][]string) ([][]Suggestion, error) {
	results := make([][]Suggestion, len(batches))
	err := s.observe(ctx, "infer_batch", func(ctx context.Context) error {
		store, err := s.manager.Snapshot()
		if err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.batchLimit)
		for i, symptoms := range batches {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := s.infer(gctx, store, symptoms)
				if err != nil {
					return err
				}
				results[i] = out
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SupportFor lists the rules and symptoms that would support diseaseID.
func (s *Service) SupportFor(ctx context.Context, diseaseID string) (BackwardResult, error) {
	var out BackwardResult
	err := s.observe(ctx, "support_for", func(context.Context) error {
		store, err := s.manager.Snapshot()
		if err != nil {
			return err
		}
		out, err = NewBackwardChainer(store).SupportFor(diseaseID)
		return err
	})
	return out, err
}

// SearchDiseases matches disease names case-insensitively.
func (s *Service) SearchDiseases(query string) ([]Disease, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return nil, err
	}
	return store.SearchDiseasesByName(query), nil
}

// Symptoms returns the symptom registry.
func (s *Service) Symptoms() ([]string, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return nil, err
	}
	return store.Symptoms(), nil
}

// Diseases returns every disease.
func (s *Service) Diseases() ([]Disease, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return nil, err
	}
	return store.Diseases(), nil
}

// DiseasesBySymptom returns the diseases listing symptom.
func (s *Service) DiseasesBySymptom(symptom string) ([]Disease, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return nil, err
	}
	return store.DiseasesBySymptom(symptom), nil
}

// Disease returns the disease with id.
func (s *Service) Disease(id string) (Disease, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return Disease{}, err
	}
	return store.Disease(id)
}

// Rules returns every rule.
func (s *Service) Rules() ([]Rule, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return nil, err
	}
	return store.AllRules(), nil
}

// Rule returns the rule with id.
func (s *Service) Rule(id string) (Rule, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return Rule{}, err
	}
	return store.Rule(id)
}

// Unparsed returns the records that failed the parse boundary.
func (s *Service) Unparsed() ([]UnparsedRecord, error) {
	store, err := s.manager.Snapshot()
	if err != nil {
		return nil, err
	}
	return store.Unparsed(), nil
}

// RunInTransaction applies fn atomically; see MutationManager.RunInTransaction.
func (s *Service) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) (MutationResult, error) {
	return s.mutate(ctx, "transaction", fn)
}

func (s *Service) mutate(ctx context.Context, op string, fn func(tx *Transaction) error) (MutationResult, error) {
	var res MutationResult
	err := s.observe(ctx, op, func(ctx context.Context) error {
		var err error
		res, err = s.manager.RunInTransaction(ctx, fn)
		return err
	})
	var rejected MutationRejectedError
	switch {
	case err == nil:
		if len(res.Changes) > 0 {
			if store, serr := s.manager.Snapshot(); serr == nil {
				s.installed(store)
			}
		}
		s.logger.Info("mutation accepted",
			zap.String("operation", op),
			zap.Int("changes", len(res.Changes)),
			zap.String("status", res.Summary.Status),
			zap.Int("errors", res.Summary.Errors),
			zap.Int("warnings", res.Summary.Warnings),
		)
	case errors.As(err, &rejected):
		s.logger.Warn("mutation rejected",
			zap.String("operation", op),
			zap.String("reason", rejected.Reason),
			zap.Int("introduced_errors", len(rejected.Introduced)),
		)
	default:
		s.logger.Error("mutation failed", zap.String("operation", op), zap.Error(err))
	}
	return res, err
}

// AddSymptom registers a symptom and returns its canonical key.
func (s *Service) AddSymptom(ctx context.Context, name string) (string, MutationResult, error) {
	var key string
	res, err := s.mutate(ctx, "add_symptom", func(tx *Transaction) error {
		var err error
		key, err = tx.AddSymptom(name)
		return err
	})
	return key, res, err
}

// RenameSymptom renames a symptom everywhere it is referenced.
func (s *Service) RenameSymptom(ctx context.Context, oldName, newName string) (string, MutationResult, error) {
	var key string
	res, err := s.mutate(ctx, "rename_symptom", func(tx *Transaction) error {
		var err error
		key, err = tx.RenameSymptom(oldName, newName)
		return err
	})
	return key, res, err
}

// DeleteSymptom removes a symptom and strips every reference to it.
func (s *Service) DeleteSymptom(ctx context.Context, name string) (MutationResult, error) {
	return s.mutate(ctx, "delete_symptom", func(tx *Transaction) error {
		return tx.DeleteSymptom(name)
	})
}

type addConfig struct {
	registerSymptoms bool
}

// AddOption configures AddDisease and AddRule.
type AddOption func(*addConfig)

// RegisterSymptoms adds the record's unknown symptoms to the registry in the
// same transaction instead of rejecting them as dangling.
func RegisterSymptoms() AddOption {
	return func(c *addConfig) { c.registerSymptoms = true }
}

func newAddConfig(opts []AddOption) addConfig {
	var cfg addConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// AddDisease persists a new disease.
func (s *Service) AddDisease(ctx context.Context, disease Disease, opts ...AddOption) (Disease, MutationResult, error) {
	cfg := newAddConfig(opts)
	var created Disease
	res, err := s.mutate(ctx, "add_disease", func(tx *Transaction) error {
		if cfg.registerSymptoms {
			tx.EnsureSymptoms(disease.Symptoms...)
		}
		var err error
		created, err = tx.AddDisease(disease)
		return err
	})
	return created, res, err
}

// EditDisease mutates a disease using the provided mutator.
func (s *Service) EditDisease(ctx context.Context, id string, mutator func(*Disease) error) (Disease, MutationResult, error) {
	var updated Disease
	res, err := s.mutate(ctx, "edit_disease", func(tx *Transaction) error {
		var err error
		updated, err = tx.EditDisease(id, mutator)
		return err
	})
	return updated, res, err
}

// DeleteDisease removes a disease according to policy.
func (s *Service) DeleteDisease(ctx context.Context, id string, policy DeletePolicy) (MutationResult, error) {
	return s.mutate(ctx, "delete_disease", func(tx *Transaction) error {
		return tx.DeleteDisease(id, policy)
	})
}

// AddRule persists a new rule under an auto-assigned id.
func (s *Service) AddRule(ctx context.Context, rule Rule, opts ...AddOption) (Rule, MutationResult, error) {
	cfg := newAddConfig(opts)
	var created Rule
	res, err := s.mutate(ctx, "add_rule", func(tx *Transaction) error {
		if cfg.registerSymptoms {
			tx.EnsureSymptoms(rule.IfSymptoms...)
		}
		var err error
		created, err = tx.AddRule(rule)
		return err
	})
	return created, res, err
}

// EditRule mutates a rule using the provided mutator.
func (s *Service) EditRule(ctx context.Context, id string, mutator func(*Rule) error) (Rule, MutationResult, error) {
	var updated Rule
	res, err := s.mutate(ctx, "edit_rule", func(tx *Transaction) error {
		var err error
		updated, err = tx.EditRule(id, mutator)
		return err
	})
	return updated, res, err
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, id string) (MutationResult, error) {
	return s.mutate(ctx, "delete_rule", func(tx *Transaction) error {
		return tx.DeleteRule(id)
	})
}

// Close releases the corpus store.
func (s *Service) Close() error { return s.manager.Close() }
