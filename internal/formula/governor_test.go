package formula

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendis/formula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor_DefaultBudget(t *testing.T) {
	assert.Equal(t, DefaultBudget, NewGovernor(0).Budget())
	assert.Equal(t, time.Second, NewGovernor(time.Second).Budget())
}

func TestGovernor_Success(t *testing.T) {
	g := NewGovernor(time.Second)
	v, err := g.Run(context.Background(), func(ctx context.Context) (Value, error) {
		return int64(7), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.Equal(t, int64(1), g.Metrics().Completed)
}

func TestGovernor_PassesErrorsThrough(t *testing.T) {
	g := NewGovernor(time.Second)
	want := valueErrorf("bad")
	_, err := g.Run(context.Background(), func(ctx context.Context) (Value, error) {
		return nil, want
	})
	assert.Same(t, want, err)
	assert.Equal(t, int64(1), g.Metrics().Failed)
}

func TestGovernor_Timeout(t *testing.T) {
	g := NewGovernor(20 * time.Millisecond)

	start := time.Now()
	_, err := g.Run(context.Background(), func(ctx context.Context) (Value, error) {
		<-ctx.Done()
		return nil, interrupted(ctx.Err())
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTimeout, schema.CodeOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	var fe *schema.FormulaError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, int64(20), fe.Details["budget_ms"])
	assert.Equal(t, int64(1), g.Metrics().Timeouts)
}

func TestGovernor_DrainsAbandonedRun(t *testing.T) {
	g := NewGovernor(20 * time.Millisecond)
	var running atomic.Int32
	release := make(chan struct{})

	_, err := g.Run(context.Background(), func(ctx context.Context) (Value, error) {
		running.Add(1)
		defer running.Add(-1)
		<-release
		return nil, nil
	})
	assert.Equal(t, schema.ErrCodeTimeout, schema.CodeOf(err))
	assert.Equal(t, int32(1), running.Load())

	// While the abandoned run holds the slot, the next run cannot start.
	_, err = g.Run(context.Background(), func(ctx context.Context) (Value, error) {
		t.Error("ran while a previous evaluation was still active")
		return nil, nil
	})
	assert.Equal(t, schema.ErrCodeTimeout, schema.CodeOf(err))

	close(release)
	require.Eventually(t, func() bool { return running.Load() == 0 }, time.Second, time.Millisecond)

	v, err := g.Run(context.Background(), func(ctx context.Context) (Value, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGovernor_Panic(t *testing.T) {
	g := NewGovernor(time.Second)
	_, err := g.Run(context.Background(), func(ctx context.Context) (Value, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeRuntime, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int64(1), g.Metrics().Panics)

	// The slot was released.
	_, err = g.Run(context.Background(), func(ctx context.Context) (Value, error) { return nil, nil })
	require.NoError(t, err)
}

func TestGovernor_ParentCancellation(t *testing.T) {
	g := NewGovernor(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Run(ctx, func(ctx context.Context) (Value, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCancelled, schema.CodeOf(err))
	assert.True(t, errors.Is(err, context.Canceled))
}
