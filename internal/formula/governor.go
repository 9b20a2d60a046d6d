package formula

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rendis/formula/pkg/schema"
)

// DefaultBudget is the wall-clock limit on a single evaluation.
const DefaultBudget = 100 * time.Millisecond

// GovernorMetrics tracks governed evaluations.
type GovernorMetrics struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Timeouts  int64 `json:"timeouts"`
	Panics    int64 `json:"panics"`
}

// Governor runs evaluations one at a time under a wall-clock budget.
//
// Each run happens on its own goroutine holding the single slot. When the
// budget expires Run returns TIMEOUT_ERROR at once, but the slot is only
// released when the abandoned goroutine observes cancellation and exits, so
// the next run cannot start while a previous one still touches shared state.
type Governor struct {
	budget  time.Duration
	slot    chan struct{}
	metrics GovernorMetrics
}

// NewGovernor creates a governor with the given budget; zero or negative
// means DefaultBudget.
func NewGovernor(budget time.Duration) *Governor {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Governor{budget: budget, slot: make(chan struct{}, 1)}
}

// Budget returns the per-evaluation limit.
func (g *Governor) Budget() time.Duration { return g.budget }

type outcome struct {
	v   Value
	err error
}

// Run executes fn under the budget. The budget covers waiting for a previous
// abandoned run to drain.
func (g *Governor) Run(ctx context.Context, fn func(ctx context.Context) (Value, error)) (Value, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.budget)
	defer cancel()

	select {
	case g.slot <- struct{}{}:
	case <-runCtx.Done():
		return nil, g.fail(runCtx.Err())
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() { <-g.slot }()
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&g.metrics.Panics, 1)
				done <- outcome{err: schema.NewErrorf(schema.ErrCodeRuntime, "internal error: %v", r).
					WithDetails(map[string]any{"kind": "InternalError"})}
			}
		}()
		v, err := fn(runCtx)
		done <- outcome{v: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctxErr := runCtx.Err(); ctxErr != nil && errors.Is(out.err, ctxErr) {
				return nil, g.fail(ctxErr)
			}
			atomic.AddInt64(&g.metrics.Failed, 1)
			return nil, out.err
		}
		atomic.AddInt64(&g.metrics.Completed, 1)
		return out.v, nil
	case <-runCtx.Done():
		return nil, g.fail(runCtx.Err())
	}
}

// fail maps the run context's error to the governed error.
func (g *Governor) fail(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		atomic.AddInt64(&g.metrics.Timeouts, 1)
		return timeoutError(g.budget)
	}
	atomic.AddInt64(&g.metrics.Failed, 1)
	return interrupted(err)
}

// Metrics returns a snapshot of the counters.
func (g *Governor) Metrics() GovernorMetrics {
	return GovernorMetrics{
		Completed: atomic.LoadInt64(&g.metrics.Completed),
		Failed:    atomic.LoadInt64(&g.metrics.Failed),
		Timeouts:  atomic.LoadInt64(&g.metrics.Timeouts),
		Panics:    atomic.LoadInt64(&g.metrics.Panics),
	}
}

func (m GovernorMetrics) String() string {
	return fmt.Sprintf("completed=%d failed=%d timeouts=%d panics=%d", m.Completed, m.Failed, m.Timeouts, m.Panics)
}
