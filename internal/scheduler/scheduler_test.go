package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/formula/internal/store"
)

// mockJournal satisfies store.Journal, recording prune cutoffs.
type mockJournal struct {
	store.Journal
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (m *mockJournal) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.cutoffs = append(m.cutoffs, before)
	return m.removed, nil
}

func (m *mockJournal) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cutoffs)
}

// tick fires every d, for driving the loop faster than cron's one-second floor.
type tick time.Duration

func (t tick) Next(from time.Time) time.Time { return from.Add(time.Duration(t)) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name      string
		expr      string
		retention time.Duration
		wantErr   bool
	}{
		{"default schedule", "", time.Hour, false},
		{"five fields", "*/5 * * * *", time.Hour, false},
		{"descriptor", "@daily", 24 * time.Hour, false},
		{"bad expression", "every tuesday", time.Hour, true},
		{"zero retention", "@hourly", 0, true},
		{"negative retention", "@hourly", -time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScheduler(&mockJournal{}, tt.expr, tt.retention, testLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestRunOnce_UsesRetentionCutoff(t *testing.T) {
	j := &mockJournal{removed: 3}
	s, err := NewScheduler(j, "@hourly", 2*time.Hour, testLogger())
	require.NoError(t, err)
	now := time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, j.cutoffs, 1)
	assert.Equal(t, now.Add(-2*time.Hour), j.cutoffs[0])

	last, total := s.LastRun()
	assert.Equal(t, now, last)
	assert.Equal(t, int64(3), total)
}

func TestRunOnce_Error(t *testing.T) {
	j := &mockJournal{err: errors.New("disk full")}
	s, err := NewScheduler(j, "", time.Hour, testLogger())
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.EqualError(t, err, "disk full")
	last, total := s.LastRun()
	assert.True(t, last.IsZero())
	assert.Zero(t, total)
}

func TestCalculateNextRun(t *testing.T) {
	s, err := NewScheduler(&mockJournal{}, "", time.Hour, testLogger())
	require.NoError(t, err)
	from := time.Date(2026, 5, 6, 12, 30, 0, 0, time.UTC)

	next, err := s.CalculateNextRun(DefaultSchedule, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 6, 13, 0, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("@daily", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 7, 0, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("nope", from)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	j := &mockJournal{}
	s, err := NewScheduler(j, "@hourly", time.Hour, testLogger())
	require.NoError(t, err)
	s.schedule = tick(10 * time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return j.calls() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	after := j.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, j.calls())

	assert.NoError(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestStop_OnParentCancel(t *testing.T) {
	s, err := NewScheduler(&mockJournal{}, "@hourly", time.Hour, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after parent cancellation")
	}
}
