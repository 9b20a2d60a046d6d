package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/formula/internal/store"
)

// DefaultSchedule prunes the journal hourly.
const DefaultSchedule = "0 * * * *"

// Scheduler periodically prunes journal entries older than the retention window.
type Scheduler struct {
	journal   store.Journal
	parser    cron.Parser
	schedule  cron.Schedule
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	lastRun time.Time
	pruned  int64
}

// NewScheduler creates a pruner for j. expr is a five-field cron expression or
// a descriptor such as "@daily"; empty means DefaultSchedule.
func NewScheduler(j store.Journal, expr string, retention time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if expr == "" {
		expr = DefaultSchedule
	}
	s := &Scheduler{
		journal:   j,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	s.schedule = schedule
	return s, nil
}

// Start launches the background pruning loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)
	s.logger.Info("journal pruner started",
		slog.String("retention", s.retention.String()),
		slog.Time("next_run", s.schedule.Next(s.now())),
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		wait := s.schedule.Next(s.now()).Sub(s.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("journal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce prunes everything older than the retention window now.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	now := s.now()
	cutoff := now.Add(-s.retention)
	n, err := s.journal.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.statsMu.Lock()
	s.lastRun = now
	s.pruned += n
	s.statsMu.Unlock()

	if n > 0 {
		s.logger.Info("journal pruned", slog.Int64("removed", n), slog.Time("cutoff", cutoff))
	} else {
		s.logger.Debug("journal prune found nothing", slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// LastRun returns when the pruner last ran and how many entries it has
// removed in total.
func (s *Scheduler) LastRun() (time.Time, int64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.lastRun, s.pruned
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts down the loop and waits for an in-flight prune to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("journal pruner stopped")
	return nil
}
