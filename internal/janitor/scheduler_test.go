package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

type countingSweeper struct {
	runs atomic.Int32
	err  error
}

func (c *countingSweeper) Cleanup(ctx context.Context) (tracker.CleanupResult, error) {
	c.runs.Add(1)
	if err := ctx.Err(); err != nil {
		return tracker.CleanupResult{}, err
	}
	return tracker.CleanupResult{Examined: 4, Deleted: 1}, c.err
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	_, err := NewScheduler(&countingSweeper{}, "every now and then", 0, nil)
	require.ErrorContains(t, err, "invalid janitor schedule")

	_, err = NewScheduler(nil, DefaultSchedule, 0, nil)
	require.Error(t, err)
}

func TestSchedulerRunsOnSchedule(t *testing.T) {
	t.Parallel()

	sweeper := &countingSweeper{}
	s, err := NewScheduler(sweeper, "@every 1s", time.Second, nil)
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.Eventually(t, func() bool { return sweeper.runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestRunOnceLogsOutcome(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	s, err := NewScheduler(&countingSweeper{}, DefaultSchedule, 0, zap.New(core))
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Deleted)
	entries := logs.FilterMessage("janitor sweep finished").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].ContextMap()["deleted"])
}

func TestRunOnceReportsFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("store down")
	core, logs := observer.New(zap.InfoLevel)
	s, err := NewScheduler(&countingSweeper{err: boom}, DefaultSchedule, 0, zap.New(core))
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, logs.FilterMessage("janitor sweep failed").Len())
}

func TestStopHonoursContext(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(&countingSweeper{}, DefaultSchedule, 0, nil)
	require.NoError(t, err)
	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}
