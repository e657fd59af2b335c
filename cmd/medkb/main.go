// Command medkb validates, queries and edits a medical knowledge base.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medkb/internal/config"
	"medkb/internal/core"
	"medkb/internal/logging"
	"medkb/pkg/domain"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	corpusPath string
	driver     string
	jsonOut    bool
	trace      bool

	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	expvar   *core.ExpvarMetricsRecorder
	svc      *core.Service
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "medkb",
		Short:         "Rule-based medical knowledge base",
		Long:          "medkb loads a knowledge base of symptoms, diseases and weighted IF-THEN rules,\nchecks it for consistency and ranks candidate diseases for observed symptoms.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "medkb.yaml", "path to the YAML config file")
	flags.StringVar(&a.corpusPath, "corpus", "", "corpus JSON path (forces the file driver)")
	flags.StringVar(&a.driver, "driver", "", "storage driver override")
	flags.BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	flags.BoolVar(&a.trace, "trace", false, "write operation spans to stderr as JSON lines")

	root.AddCommand(
		a.validateCmd(),
		a.statusCmd(),
		a.inferCmd(),
		a.batchCmd(),
		a.supportCmd(),
		a.searchCmd(),
		a.importCmd(),
		a.symptomCmd(),
		a.diseaseCmd(),
		a.ruleCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.driver != "" {
		cfg.Storage.Driver = a.driver
	}
	if a.corpusPath != "" {
		cfg.Storage.Driver = config.DriverFile
		cfg.Storage.CorpusPath = a.corpusPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	corpus, err := core.OpenCorpusStore(cmd.Context(), cfg.Storage, logger)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.expvar = core.NewExpvarMetricsRecorder("")
	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{
			core.NewPrometheusMetricsRecorder(a.registry),
			a.expvar,
		}),
		core.WithBatchLimit(cfg.Inference.BatchLimit),
		core.WithServiceRulePrefix(cfg.Inference.RulePrefix),
	}
	if a.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(cmd.ErrOrStderr())))
	}
	if cfg.History.Path != "" {
		history, err := core.NewJSONLHistory(cfg.History.Path)
		if err != nil {
			_ = corpus.Close()
			return err
		}
		opts = append(opts, core.WithHistory(history))
	}
	a.svc = core.NewService(corpus, opts...)
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.svc != nil {
		err = a.svc.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}

// load installs the persisted corpus. A missing corpus is reported with the
// hint to import one.
func (a *app) load(ctx context.Context) (core.StoreSummary, error) {
	summary, err := a.svc.Load(ctx)
	if errors.Is(err, domain.ErrCorpusNotFound) {
		return summary, fmt.Errorf("%w (use 'medkb import' to seed one)", err)
	}
	return summary, err
}

func (a *app) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
