package store

import (
	"context"
	"time"
)

// Journal records dispatched requests for later inspection.
// All implementations must be safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, ev *Evaluation) error
	Get(ctx context.Context, id string) (*Evaluation, error)
	List(ctx context.Context, filter EvaluationFilter) ([]*Evaluation, error)
	Stats(ctx context.Context) (*Stats, error)

	// Prune deletes entries created strictly before the cutoff and returns
	// how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
