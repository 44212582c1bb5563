package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/progress"
	"github.com/JakeFAU/progress-tracker/internal/publisher"
)

// Message is the wire payload broadcast for every notification.
type Message struct {
	Event     string    `json:"event"`
	TrackerID string    `json:"tracker_id"`
	Status    string    `json:"status"`
	Terminal  bool      `json:"terminal"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// PartitionKey keeps every message of one tracker on the same partition.
func (m Message) PartitionKey() string {
	return m.TrackerID
}

// PublisherSink forwards notifications, in order, to a pub/sub channel.
// Failures are reported to the hub, which logs and drops them.
type PublisherSink struct {
	pub     publisher.Publisher
	channel string
	logger  *zap.Logger
}

// NewPublisherSink constructs a PublisherSink that publishes to channel.
func NewPublisherSink(pub publisher.Publisher, channel string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, channel: channel, logger: logger}
}

// Consume publishes each notification. One failed publish does not stop the
// rest of the batch; all failures are joined into the returned error.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Notification) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, n := range batch {
		msg := Message{
			Event:     "progress." + string(n.Kind),
			TrackerID: n.TrackerID,
			Status:    n.Status,
			Terminal:  n.Terminal,
			Timestamp: n.TS,
			Data:      n.Snapshot,
		}
		id, err := s.pub.Publish(ctx, s.channel, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s for %s: %w", n.Kind, n.TrackerID, err))
			continue
		}
		s.logger.Debug("notification published",
			zap.String("tracker_id", n.TrackerID),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
