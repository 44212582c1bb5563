// Package system exercises the wall clock adapter.
package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v outside [%v, %v]", got, before, after)
}

// TestClockTruncatesToPrecision keeps timestamps stable across backends.
func TestClockTruncatesToPrecision(t *testing.T) {
	t.Parallel()

	got := New().Now()
	require.Zero(t, got.Nanosecond()%int(time.Microsecond))
	// No monotonic reading: equality survives a round trip through text.
	parsed, err := time.Parse(time.RFC3339Nano, got.Format(time.RFC3339Nano))
	require.NoError(t, err)
	require.True(t, parsed.Equal(got))

	ms := NewWithPrecision(time.Millisecond).Now()
	require.Zero(t, ms.Nanosecond()%int(time.Millisecond))
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := NewWithPrecision(0)
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}
