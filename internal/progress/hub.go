package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the queue between Emit and the batcher (default 4096).
//   - MaxBatchSize: flush once this many notifications queue (default 256).
//   - MaxBatchWait: longest a queued notification waits for its batch to fill (default 100ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize   int
	MaxBatchSize int
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	BaseContext  context.Context
	Logger       *zap.Logger
}

const (
	defaultBufferSize   = 4096
	defaultMaxBatchSize = 256
	defaultMaxBatchWait = 100 * time.Millisecond
	defaultSinkTimeout  = 5 * time.Second
	dropLogInterval     = 5 * time.Second
)

// Stats counts notifications through the hub since it started.
type Stats struct {
	Emitted      int64
	Dropped      int64
	Batches      int64
	Delivered    int64
	SinkFailures int64
}

// Hub aggregates notifications and fans them out to registered sinks in
// emission order. It is safe for concurrent use and never blocks callers.
//
// Each flush hands the batch to every sink concurrently and waits for all of
// them, so a slow broker delays later batches but never reorders them, and a
// sink that errors or panics does not affect the others.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Notification
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	emitted      atomic.Int64
	dropped      atomic.Int64
	batches      atomic.Int64
	delivered    atomic.Int64
	sinkFailures atomic.Int64
	lastDropLog  atomic.Int64
	closed       atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine using
// the supplied sinks. Nil sinks are skipped.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  live,
		queue:  make(chan Notification, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Emit enqueues a Notification for batching. It never blocks; if the buffer
// is full the notification is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(n Notification) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := n.Validate(); err != nil {
		h.logger.Debug("discarding invalid notification", zap.Error(err))
		return
	}
	select {
	case h.queue <- n:
		h.emitted.Add(1)
	default:
		total := h.dropped.Add(1)
		if h.shouldLogDrop(time.Now()) {
			h.logger.Warn("notifications dropped due to backpressure",
				zap.Int64("dropped_total", total),
				zap.String("tracker_id", n.TrackerID),
			)
		}
	}
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Emitted:      h.emitted.Load(),
		Dropped:      h.dropped.Load(),
		Batches:      h.batches.Load(),
		Delivered:    h.delivered.Load(),
		SinkFailures: h.sinkFailures.Load(),
	}
}

// Close stops accepting notifications, delivers everything already queued,
// closes the sinks, and waits for the batcher to exit or ctx to end. Later
// calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification hub close wait: %w", ctx.Err())
	}
}

// run owns the pending batch. The deadline starts when the first
// notification of a batch arrives, so no notification waits longer than
// MaxBatchWait however steady the traffic is.
func (h *Hub) run() {
	defer close(h.doneCh)

	pending := make([]Notification, 0, h.cfg.MaxBatchSize)
	deadline := time.NewTimer(h.cfg.MaxBatchWait)
	deadline.Stop()
	var due <-chan time.Time

	flush := func() {
		deadline.Stop()
		due = nil
		if len(pending) == 0 {
			return
		}
		h.deliver(pending)
		pending = pending[:0]
	}

	for {
		select {
		case n := <-h.queue:
			pending = append(pending, n)
			if len(pending) >= h.cfg.MaxBatchSize {
				flush()
			} else if due == nil {
				deadline.Reset(h.cfg.MaxBatchWait)
				due = deadline.C
			}
		case <-due:
			due = nil
			flush()
		case <-h.stopCh:
			for drained := false; !drained; {
				select {
				case n := <-h.queue:
					pending = append(pending, n)
					if len(pending) >= h.cfg.MaxBatchSize {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

// deliver fans one batch out to all sinks and waits for them.
func (h *Hub) deliver(batch []Notification) {
	h.batches.Add(1)
	defer h.delivered.Add(int64(len(batch)))
	if len(h.sinks) == 0 {
		return
	}
	shared := append([]Notification(nil), batch...)
	if len(h.sinks) == 1 {
		h.consume(h.sinks[0], shared)
		return
	}
	var wg sync.WaitGroup
	for _, sink := range h.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			h.consume(s, shared)
		}(sink)
	}
	wg.Wait()
}

func (h *Hub) consume(s Sink, batch []Notification) {
	ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			h.sinkFailures.Add(1)
			h.logger.Error("notification sink panicked",
				zap.String("sink", fmt.Sprintf("%T", s)),
				zap.Any("panic", rec),
			)
		}
	}()
	if err := s.Consume(ctx, batch); err != nil {
		h.sinkFailures.Add(1)
		h.logger.Warn("notification sink consume failed",
			zap.String("sink", fmt.Sprintf("%T", s)),
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("notification sink close failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Error(err),
			)
		}
	}
}

// shouldLogDrop lets one drop warning through per dropLogInterval.
func (h *Hub) shouldLogDrop(now time.Time) bool {
	nano := now.UnixNano()
	last := h.lastDropLog.Load()
	if last != 0 && nano-last < dropLogInterval.Nanoseconds() {
		return false
	}
	return h.lastDropLog.CompareAndSwap(last, nano)
}
