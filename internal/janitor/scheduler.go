// Package janitor runs the tracker retention sweep on a cron schedule, off
// the request path.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/metrics"
	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

// DefaultSchedule sweeps every ten minutes.
const DefaultSchedule = "@every 10m"

// Sweeper performs one retention sweep.
type Sweeper interface {
	Cleanup(ctx context.Context) (tracker.CleanupResult, error)
}

// Scheduler triggers the sweeper on a cron schedule. A run that is still in
// progress when the next one fires causes that next run to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler parses schedule (standard five-field cron or a descriptor such
// as "@every 10m") and registers the sweep. timeout bounds each run; zero
// means no bound.
func NewScheduler(sweeper Sweeper, schedule string, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if sweeper == nil {
		return nil, errors.New("janitor: sweeper is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{sugar: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s := &Scheduler{
		cron:    c,
		sweeper: sweeper,
		timeout: timeout,
		logger:  logger,
	}
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("janitor started")
}

// Stop prevents further runs and waits for an in-flight run or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("janitor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("janitor stop: %w", ctx.Err())
	}
}

// RunOnce performs a sweep immediately and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (tracker.CleanupResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := s.sweeper.Cleanup(ctx)
	metrics.ObserveCleanup(res.Deleted, err)
	if err != nil {
		s.logger.Error("janitor sweep failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return res, err
	}
	s.logger.Info("janitor sweep finished",
		zap.Int("examined", res.Examined),
		zap.Int("deleted", res.Deleted),
		zap.Int64("purged", res.Purged),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (s *Scheduler) run() {
	_, _ = s.RunOnce(context.Background())
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
