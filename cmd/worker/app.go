package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/cache"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/database"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/events"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/jobs"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/pathresolver"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/probe"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/queue"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/registry"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/repair"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/scanner"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/storage"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/webhook"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	prober   *probe.Prober
	runner   *transcoder.Runner
	resolver *pathresolver.Resolver
	registry *registry.Registry
	chain    *repair.Chain
	scanner  *scanner.Scanner
	store    *jobs.Store
	jobs     *jobs.Orchestrator

	closers []func()
}

// newApp loads configuration and wires the core components. Integrations
// are only connected when withHooks is set.
func newApp(ctx context.Context, path string, withHooks bool) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	a.prober = probe.NewProber(cfg.Tools.FFprobePath, cfg.Tools.ProbeTimeout, logger)
	a.runner = transcoder.NewRunner(cfg.Tools.FFmpegPath, transcoder.PolicyFromConfig(cfg.Timeouts), logger)
	a.resolver = pathresolver.New(cfg.Paths, cfg.Processing)
	a.registry = registry.New(cfg.Paths.JobStateDir, logger)
	a.chain = repair.NewChain(a.runner, a.prober, a.resolver, a.registry,
		cfg.Profiles.Repair, cfg.Tools.MkvmergePath, cfg.Processing.RepairTimeout, logger)
	a.scanner = scanner.New(a.prober, a.chain, a.registry, scanner.OptionsFromConfig(cfg.Processing), logger)
	a.store = jobs.NewStore(cfg.Paths.JobStateDir, logger)

	var hooks jobs.Hooks
	if withHooks {
		if hooks, err = a.connectHooks(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.jobs = jobs.New(jobs.Deps{
		StateDir: cfg.Paths.JobStateDir,
		Store:    a.store,
		Scanner:  a.scanner,
		Runner:   a.runner,
		Paths:    a.resolver,
		Profiles: cfg,
		Policy:   jobs.PolicyFromConfig(cfg.Processing),
		Hooks:    hooks,
		Logger:   logger,
	})
	return a, nil
}

// connectHooks connects every enabled integration.
func (a *app) connectHooks(ctx context.Context) (jobs.Hooks, error) {
	cfg := a.cfg
	var hooks jobs.Hooks

	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return hooks, err
	}
	a.addCloser(closer)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, a.logger)
		go func() {
			if err := srv.Start(); err != nil {
				a.logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
		a.closers = append(a.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})

		mon := monitoring.NewMonitor(a.logger)
		monCtx, cancel := context.WithCancel(context.Background())
		mon.Start(monCtx, monitoring.DefaultInterval)
		a.closers = append(a.closers, cancel)
	}

	var notifiers []events.Notifier
	if cfg.Webhook.Enabled {
		notifiers = append(notifiers, webhook.NewService(cfg.Webhook, a.logger))
	}
	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue)
		if err != nil {
			return hooks, err
		}
		a.addCloser(q)
		notifiers = append(notifiers, q)
	}
	if len(notifiers) > 0 {
		hooks.Notifier = events.NewMulti(a.logger, notifiers...)
	}

	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database)
		if err != nil {
			return hooks, err
		}
		a.closers = append(a.closers, db.Close)

		archive := database.NewJobArchive(db, a.logger)
		if err := archive.Migrate(ctx); err != nil {
			return hooks, err
		}
		hooks.Archiver = archive
	}

	if cfg.Storage.Enabled {
		store, err := storage.New(ctx, cfg.Storage, a.logger)
		if err != nil {
			return hooks, err
		}
		hooks.Publisher = store
	}

	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis)
		if err != nil {
			return hooks, err
		}
		a.addCloser(c)
		hooks.Mirror = c
	}

	return hooks, nil
}

func (a *app) addCloser(c io.Closer) {
	a.closers = append(a.closers, func() {
		if err := c.Close(); err != nil {
			a.logger.WithError(err).Debug("Close failed")
		}
	})
}

// Close releases integrations in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// jobError maps the status a command left the job in to its exit result.
func jobError(job *models.Job) error {
	if job == nil {
		return nil
	}
	switch job.Status {
	case models.JobStatusCompleted, models.JobStatusAwaitingConfirmation:
		return nil
	}
	if job.ErrorMsg != "" {
		return fmt.Errorf("job %s: %s", job.Status, job.ErrorMsg)
	}
	return errors.New("job " + job.Status)
}
