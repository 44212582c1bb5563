package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTracker(total int) Tracker {
	return newTracker("t1", CreateRequest{Operation: "export", TotalSteps: total}, StatusStarted, baseTime)
}

// TestApplyPercentageIsMonotonic ensures non-decreasing steps never lower the percentage.
func TestApplyPercentageIsMonotonic(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(7)
	prev := 0.0
	for step := 0; step <= 7; step++ {
		require.NoError(t, tr.Apply(Update{CurrentStep: ptr(step)}, baseTime.Add(time.Duration(step)*time.Second)))
		require.GreaterOrEqual(t, tr.Percentage, prev)
		require.InDelta(t, roundTo2(float64(step)/7*100), tr.Percentage, 1e-9)
		prev = tr.Percentage
	}
	require.InDelta(t, 42.86, percentage(3, 7), 1e-9)
}

// TestApplyCompletedForcesFullProgress ensures completion wins over a step in the same call.
func TestApplyCompletedForcesFullProgress(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(10)
	require.NoError(t, tr.Apply(Update{CurrentStep: ptr(2), Status: status(StatusCompleted)}, baseTime.Add(time.Minute)))
	require.Equal(t, 10, tr.CurrentStep)
	require.InDelta(t, 100.0, tr.Percentage, 1e-9)
	require.NotNil(t, tr.CompletedAt)
	require.Nil(t, tr.EstimatedCompletion)
	require.True(t, tr.Terminal())
}

// TestApplyClampsStep ensures out-of-range steps are clamped, not rejected.
func TestApplyClampsStep(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(4)
	require.NoError(t, tr.Apply(Update{CurrentStep: ptr(9)}, baseTime))
	require.Equal(t, 4, tr.CurrentStep)
	require.NoError(t, tr.Apply(Update{CurrentStep: ptr(-3)}, baseTime))
	require.Equal(t, 0, tr.CurrentStep)
	require.Equal(t, StatusStarted, tr.Status)
}

// TestApplyMetadataMerge ensures merges are idempotent and additive.
func TestApplyMetadataMerge(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(2)
	require.NoError(t, tr.Apply(Update{Metadata: map[string]any{"a": 1}}, baseTime))
	require.NoError(t, tr.Apply(Update{Metadata: map[string]any{"a": 1}}, baseTime))
	require.Equal(t, map[string]any{"a": 1}, tr.Metadata)
	require.NoError(t, tr.Apply(Update{Metadata: map[string]any{"b": 2}}, baseTime))
	require.Equal(t, map[string]any{"a": 1, "b": 2}, tr.Metadata)
	require.NoError(t, tr.Apply(Update{Metadata: map[string]any{"a": "x"}}, baseTime))
	require.Equal(t, map[string]any{"a": "x", "b": 2}, tr.Metadata)
}

// TestApplyAppendsLogs ensures steps and the three logs are append-only and tagged.
func TestApplyAppendsLogs(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(5)
	now := baseTime.Add(time.Second)
	require.NoError(t, tr.Apply(Update{
		CurrentStep:     ptr(2),
		StepDescription: ptr("parsed rows"),
		LogMessage:      ptr("batch 1"),
		WarningMessage:  ptr("slow disk"),
	}, now))
	require.NoError(t, tr.Apply(Update{ErrorMessage: ptr("row 9 invalid")}, now))

	require.Equal(t, []StepEntry{{StepNumber: 2, Description: "parsed rows", Timestamp: now}}, tr.Steps)
	require.Len(t, tr.Logs, 1)
	require.Len(t, tr.Warnings, 1)
	require.Equal(t, LogEntry{Message: "row 9 invalid", Step: 2, Timestamp: now}, tr.Errors[0])
}

// TestApplyRejectsInvalidStatusWithoutMutation ensures validation runs before any change.
func TestApplyRejectsInvalidStatusWithoutMutation(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(4)
	before := tr
	err := tr.Apply(Update{CurrentStep: ptr(3), Status: status("exploded"), LogMessage: ptr("x")}, baseTime.Add(time.Hour))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "status")
	require.Equal(t, before.CurrentStep, tr.CurrentStep)
	require.Empty(t, tr.Logs)
	require.Equal(t, before.UpdatedAt, tr.UpdatedAt)
}

// TestApplyTransitions walks the allowed and forbidden status moves.
func TestApplyTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"started to in_progress", StatusStarted, StatusInProgress, true},
		{"started to completed", StatusStarted, StatusCompleted, true},
		{"started to paused", StatusStarted, StatusPaused, true},
		{"pending to started", StatusPending, StatusStarted, true},
		{"in_progress to in_progress", StatusInProgress, StatusInProgress, true},
		{"paused to in_progress", StatusPaused, StatusInProgress, true},
		{"in_progress to started", StatusInProgress, StatusStarted, false},
		{"started to pending", StatusStarted, StatusPending, false},
		{"to batch-only status", StatusInProgress, StatusCompletedWithErrors, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := newTestTracker(3)
			tr.Status = tc.from
			err := tr.Apply(Update{Status: status(tc.to)}, baseTime)
			if tc.ok {
				require.NoError(t, err)
				require.Equal(t, tc.to, tr.Status)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

// TestApplyTerminalIsAbsorbing ensures every terminal state rejects further updates.
func TestApplyTerminalIsAbsorbing(t *testing.T) {
	t.Parallel()

	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		tr := newTestTracker(3)
		require.NoError(t, tr.Apply(Update{Status: status(terminal)}, baseTime))
		require.ErrorIs(t, tr.Apply(Update{LogMessage: ptr("late")}, baseTime), ErrTerminal)
		require.Empty(t, tr.Logs)
	}
}

// TestApplyEstimatesCompletion ensures the ETA uses the mean time per step.
func TestApplyEstimatesCompletion(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(4)
	now := baseTime.Add(10 * time.Second)
	require.NoError(t, tr.Apply(Update{CurrentStep: ptr(1), Status: status(StatusInProgress)}, now))
	require.NotNil(t, tr.EstimatedCompletion)
	require.Equal(t, now.Add(30*time.Second), *tr.EstimatedCompletion)

	require.NoError(t, tr.Apply(Update{Status: status(StatusPaused)}, now.Add(time.Second)))
	require.Nil(t, tr.EstimatedCompletion)
}

// TestSnapshotRecomputesElapsed ensures elapsed time is derived from the read time.
func TestSnapshotRecomputesElapsed(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(1)
	tr.ElapsedSeconds = 999
	require.InDelta(t, 90.0, tr.Snapshot(baseTime.Add(90*time.Second)).ElapsedSeconds, 1e-9)
	require.InDelta(t, 0.0, tr.Snapshot(baseTime.Add(-time.Second)).ElapsedSeconds, 1e-9)
}

// TestParseStatus ensures parsing is case-insensitive and excludes batch-only values.
func TestParseStatus(t *testing.T) {
	t.Parallel()

	st, ok := ParseStatus(" In_Progress ")
	require.True(t, ok)
	require.Equal(t, StatusInProgress, st)
	_, ok = ParseStatus("completed_with_errors")
	require.False(t, ok)
	_, ok = ParseStatus("")
	require.False(t, ok)
}
