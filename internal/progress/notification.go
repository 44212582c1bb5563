package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes what happened to the tracked record.
type Kind string

// Supported notification kinds.
const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
	KindBatch   Kind = "batch"
)

// Notification captures one state change of a tracker or batch.
type Notification struct {
	// TrackerID identifies the tracker or batch the change applies to.
	TrackerID string
	// Kind says whether the record was created, updated, deleted, or is a batch recompute.
	Kind Kind
	// Status is the record's status after the change.
	Status string
	// Category is the record's optional grouping tag.
	Category string
	// Terminal is set once the record reached a state that accepts no further updates.
	Terminal bool
	// TS is the UTC timestamp of the change.
	TS time.Time
	// Dur is the wall-clock runtime, set for terminal notifications.
	Dur time.Duration
	// Snapshot is the full record as persisted; it is never mutated after Emit.
	Snapshot any
}

// Validate performs coarse validation on Notification payloads.
func (n Notification) Validate() error {
	if n.TrackerID == "" {
		return errors.New("tracker id is required")
	}
	if n.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch n.Kind {
	case KindCreated, KindUpdated, KindDeleted, KindBatch:
	default:
		return fmt.Errorf("unknown kind %q", n.Kind)
	}
	if n.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
