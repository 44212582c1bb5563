package tracker

import "strings"

// Status is the lifecycle state of a tracker or batch.
type Status string

// Tracker and batch statuses.
const (
	StatusPending             Status = "pending"
	StatusStarted             Status = "started"
	StatusInProgress          Status = "in_progress"
	StatusPaused              Status = "paused"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
	StatusCompletedWithErrors Status = "completed_with_errors"
)

var trackerStatuses = []Status{
	StatusPending,
	StatusStarted,
	StatusInProgress,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus converts s into a tracker Status. It reports false for unknown
// values and for batch-only statuses.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.valid() {
		return "", false
	}
	return st, true
}

func (s Status) valid() bool {
	for _, known := range trackerStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s accepts no further updates.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusCompletedWithErrors:
		return true
	default:
		return false
	}
}

// canMoveTo reports whether a non-terminal tracker in state s may move to
// next. pending and started can only be re-asserted, never re-entered.
func (s Status) canMoveTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StatusPending:
		return s == StatusPending
	case StatusStarted:
		return s == StatusPending || s == StatusStarted
	case StatusInProgress, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func statusList() string {
	names := make([]string, 0, len(trackerStatuses))
	for _, s := range trackerStatuses {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
