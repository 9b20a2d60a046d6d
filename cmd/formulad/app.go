package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rendis/formula/internal/formula"
	"github.com/rendis/formula/internal/logging"
	"github.com/rendis/formula/internal/protocol"
	"github.com/rendis/formula/internal/registry"
	"github.com/rendis/formula/internal/scheduler"
	"github.com/rendis/formula/internal/store"
	"github.com/rendis/formula/internal/validation"
)

// app is the wired process: one engine, one dispatcher and the optional journal.
type app struct {
	cfg        Config
	logger     *slog.Logger
	engine     *formula.Engine
	dispatcher *protocol.Dispatcher
	journal    store.Journal
	pruner     *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry()
	if err := registry.LoadDeclarations(reg, cfg.Functions); err != nil {
		return nil, fmt.Errorf("load functions: %w", err)
	}

	engine, err := formula.NewEngine(formula.Options{
		Registry: reg,
		Budget:   cfg.Budget.Duration,
		Limits:   formula.Limits{MaxSequence: cfg.MaxSequence, MaxOutput: cfg.MaxOutput},
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build environment: %w", err)
	}

	var extraSchema []byte
	if cfg.BindingsSchema != "" {
		if extraSchema, err = os.ReadFile(cfg.BindingsSchema); err != nil {
			return nil, fmt.Errorf("read bindings schema: %w", err)
		}
	}
	validator, err := validation.NewJSONSchemaValidator(extraSchema)
	if err != nil {
		return nil, fmt.Errorf("compile bindings schema: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, engine: engine}
	if cfg.Journal.Path != "" {
		j, err := openJournal(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		a.journal = j
	}

	a.dispatcher = protocol.NewDispatcher(protocol.Options{
		Engine:    engine,
		Validator: validator,
		Journal:   a.journal,
		Logger:    logger,
	})

	logger.Debug("environment ready",
		slog.Int("names", len(engine.Environment().Names())),
		slog.Int("external", reg.Count()),
		slog.Duration("budget", engine.Governor().Budget()),
		slog.Bool("journal", a.journal != nil),
	)
	return a, nil
}

func openJournal(ctx context.Context, path string) (*store.LibSQLStore, error) {
	j, err := store.NewLibSQLStore(journalDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// startPruner runs journal retention in the background while serving.
func (a *app) startPruner(ctx context.Context) error {
	if a.journal == nil {
		return nil
	}
	p, err := scheduler.NewScheduler(a.journal, a.cfg.Journal.PruneSchedule, a.cfg.Journal.Retention.Duration, a.logger)
	if err != nil {
		return err
	}
	if _, err := p.RunOnce(ctx); err != nil {
		a.logger.Warn("initial journal prune failed", slog.String("error", err.Error()))
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	a.pruner = p
	return nil
}

func (a *app) Close() error {
	var errs []error
	if a.pruner != nil {
		errs = append(errs, a.pruner.Stop())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	a.logger.Debug("engine stopped", slog.String("governor", a.engine.Governor().Metrics().String()))
	return errors.Join(errs...)
}
