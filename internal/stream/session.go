// Package stream implements the pull-based tracker stream: a poll loop that
// re-reads one tracker at a fixed interval and forwards each new state until
// the tracker reaches a terminal status.
//
// There is no wakeup on write. Latency is bounded by the poll interval, and a
// client only sees the states that happen to be current at each tick.
package stream

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

const (
	// DefaultPollInterval is the delay between two reads of the tracker.
	DefaultPollInterval = time.Second
	// DefaultHeartbeatInterval keeps idle connections open through proxies.
	DefaultHeartbeatInterval = 15 * time.Second
)

// Reader returns the current snapshot of a tracker.
type Reader interface {
	Get(ctx context.Context, id string) (tracker.Tracker, error)
}

// Sink receives stream output. Send and Heartbeat are never called
// concurrently.
type Sink interface {
	Send(t tracker.Tracker) error
	Heartbeat() error
}

// Config tunes the poll loop.
type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

// Session runs poll loops against a Reader.
type Session struct {
	reader Reader
	cfg    Config
	logger *zap.Logger
}

// NewSession constructs a Session. Zero intervals fall back to the defaults;
// a negative heartbeat interval disables heartbeats.
func NewSession(reader Reader, cfg Config, logger *zap.Logger) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{reader: reader, cfg: cfg, logger: logger}
}

// Run streams trackerID into sink. It returns nil after sending a terminal
// snapshot, tracker.ErrNotFound if the tracker disappears, the sink's error if
// a write fails, or ctx.Err() when the client goes away. Store outages are
// logged and retried on the next tick.
func (s *Session) Run(ctx context.Context, trackerID string, sink Sink) error {
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	var heartbeat <-chan time.Time
	if s.cfg.HeartbeatInterval > 0 {
		hb := time.NewTicker(s.cfg.HeartbeatInterval)
		defer hb.Stop()
		heartbeat = hb.C
	}

	var last emitted
	if done, err := s.tick(ctx, trackerID, sink, &last); done || err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat:
			if err := sink.Heartbeat(); err != nil {
				return err
			}
		case <-poll.C:
			if done, err := s.tick(ctx, trackerID, sink, &last); done || err != nil {
				return err
			}
		}
	}
}

// emitted remembers the last snapshot sent. Two writes can share an
// updated_at at clock precision, so a status change also counts as new.
type emitted struct {
	sent      bool
	updatedAt time.Time
	status    tracker.Status
}

func (e emitted) changed(t tracker.Tracker) bool {
	return !e.sent || t.UpdatedAt.After(e.updatedAt) || t.Status != e.status
}

func (s *Session) tick(
	ctx context.Context,
	trackerID string,
	sink Sink,
	last *emitted,
) (bool, error) {
	t, err := s.reader.Get(ctx, trackerID)
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		return true, tracker.ErrNotFound
	case errors.Is(err, tracker.ErrStoreUnavailable):
		s.logger.Warn("stream read failed; retrying",
			zap.String("tracker_id", trackerID),
			zap.Error(err),
		)
		return false, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return true, ctxErr
		}
		return true, err
	}
	if !last.changed(t) {
		return false, nil
	}
	if err := sink.Send(t); err != nil {
		return true, err
	}
	*last = emitted{sent: true, updatedAt: t.UpdatedAt, status: t.Status}
	return t.Terminal(), nil
}
