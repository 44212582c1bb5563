package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a tracker id is unknown or has expired.
	ErrNotFound = errors.New("tracker not found")
	// ErrBatchNotFound is returned when a batch id is unknown or has expired.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrTerminal is returned when an update targets a completed, failed, or
	// cancelled tracker.
	ErrTerminal = errors.New("tracker is in a terminal state")
	// ErrStoreUnavailable wraps backend failures; callers may retry.
	ErrStoreUnavailable = errors.New("tracker store unavailable")
)

// ValidationError reports malformed input. Fields maps the offending field
// name to a human-readable reason.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// fieldErrors accumulates per-field failures before any mutation happens.
type fieldErrors map[string]string

func (f fieldErrors) add(field, reason string) {
	if _, ok := f[field]; !ok {
		f[field] = reason
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: map[string]string(f)}
}
