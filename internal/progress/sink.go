package progress

import "context"

// Sink consumes batches of notifications. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Notification) error
	Close(ctx context.Context) error
}

// Emitter publishes individual notifications; Hub satisfies this interface so
// the tracker service stays agnostic about how they are buffered or delivered.
type Emitter interface {
	Emit(n Notification)
}

// NopEmitter discards every notification.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Notification) {}
