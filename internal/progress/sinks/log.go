package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/progress"
)

// LogSink emits structured logs for each notification. It is useful during
// development or audits where no subscriber is attached.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each notification in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Notification) error {
	for _, n := range batch {
		fields := []zap.Field{
			zap.String("tracker_id", n.TrackerID),
			zap.String("kind", string(n.Kind)),
			zap.String("status", n.Status),
			zap.String("category", n.Category),
			zap.Bool("terminal", n.Terminal),
			zap.Time("ts", n.TS),
		}
		if n.Dur > 0 {
			fields = append(fields, zap.Duration("dur", n.Dur))
		}
		s.logger.Info("progress notification", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
