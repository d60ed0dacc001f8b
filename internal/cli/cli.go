// Package cli wires the worker CLI surface of spec.md §6: a single
// cobra command that loads a WorkerConfig, opens the store, and runs
// one worker loop to completion.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gohive/beehive/internal/config"
	"github.com/gohive/beehive/internal/dataflow"
	"github.com/gohive/beehive/internal/jobfactory"
	"github.com/gohive/beehive/internal/model"
	"github.com/gohive/beehive/internal/runnable"
	"github.com/gohive/beehive/internal/store"
	"github.com/gohive/beehive/internal/worker"
)

// App represents the beehive-worker CLI, the single boundary
// spec.md §6 exports from the core engine.
type App struct {
	rootCmd *cobra.Command
	flags   flags

	version string
	commit  string
	date    string
}

type flags struct {
	url             string
	analysesPattern string
	jobID           int64
	batchSize       int
	lifeSpan        int
	jobLimit        int
	debug           int
	configPath      string
}

// New creates a new CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// ExecuteContext runs the CLI application bound to ctx, so a worker's
// loop observes cancellation (e.g. SIGINT/SIGTERM) between jobs.
func (a *App) ExecuteContext(ctx context.Context) error {
	return a.rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version string for the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "beehive-worker",
		Short: "Run one beehive worker against an analysis",
		Long: `beehive-worker claims and executes jobs for a single analysis
until a termination predicate fires, per spec.md's worker lifecycle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.run,
	}

	f := a.rootCmd.Flags()
	f.StringVar(&a.flags.url, "url", "", "resource URL of the hive database")
	f.StringVar(&a.flags.analysesPattern, "analyses_pattern", "", "glob over logic_name restricting which analyses to claim for")
	f.Int64Var(&a.flags.jobID, "job_id", 0, "bind the worker to the analysis owning this job_id")
	f.IntVar(&a.flags.batchSize, "batch_size", 0, "jobs claimed per poll (0: use config/default)")
	f.IntVar(&a.flags.lifeSpan, "life_span", 0, "maximum wall-clock seconds before the worker exits")
	f.IntVar(&a.flags.jobLimit, "job_limit", 0, "maximum jobs run before the worker exits")
	f.IntVar(&a.flags.debug, "debug", -1, "log verbosity 0-4 (-1: use config/default)")
	f.StringVar(&a.flags.configPath, "config", "", "path to a WorkerConfig yaml file")
}

func (a *App) run(cmd *cobra.Command, args []string) error {
	cfg, err := a.resolveConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	db, err := store.Open(cfg.URL, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	bus := eventsBus(log)
	flow := dataflow.New(db, bus, log)

	registry := runnable.NewRegistry()
	registry.Register("JobFactory", jobfactory.New(db))

	analysisID, err := resolveAnalysis(db, cfg)
	if err != nil {
		return err
	}

	w, err := worker.New(db, flow, registry, bus, log, analysisID, worker.Config{
		BatchSize:  cfg.BatchSize,
		LifeSpan:   lifeSpanDuration(cfg.LifeSpanSeconds),
		JobLimit:   cfg.JobLimit,
		MeadowType: cfg.MeadowType,
	})
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	cause := w.Run(cmd.Context())
	log.Info("worker exited", zap.String("cause_of_death", string(cause)))
	if cause == model.CauseFatality {
		return fmt.Errorf("worker exited with %s", cause)
	}
	return nil
}

// resolveConfig layers WorkerConfig file -> environment -> CLI flags,
// the teacher's own config-precedence order in internal/config.
func (a *App) resolveConfig() (*config.WorkerConfig, error) {
	var cfg *config.WorkerConfig
	var err error
	if a.flags.configPath != "" {
		cfg, err = config.Load(a.flags.configPath)
	} else {
		cfg = config.DefaultWorkerConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	config.ApplyEnvOverrides(cfg)

	if a.flags.url != "" {
		cfg.URL = a.flags.url
	}
	if a.flags.analysesPattern != "" {
		cfg.AnalysesPattern = a.flags.analysesPattern
	}
	if a.flags.jobID != 0 {
		cfg.JobID = a.flags.jobID
	}
	if a.flags.batchSize != 0 {
		cfg.BatchSize = a.flags.batchSize
	}
	if a.flags.lifeSpan != 0 {
		cfg.LifeSpanSeconds = a.flags.lifeSpan
	}
	if a.flags.jobLimit != 0 {
		cfg.JobLimit = a.flags.jobLimit
	}
	if a.flags.debug >= 0 {
		cfg.Debug = a.flags.debug
	}
	return cfg, nil
}
