package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/progress-tracker/internal/progress"
)

// TestLogSinkWritesStructuredEntries ensures every notification becomes one log entry.
func TestLogSinkWritesStructuredEntries(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Notification{
		{TrackerID: "a", Kind: progress.KindCreated, Status: "started", TS: now},
		{TrackerID: "a", Kind: progress.KindUpdated, Status: "completed", Terminal: true, TS: now, Dur: time.Second},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].ContextMap()["tracker_id"])
	require.Equal(t, true, entries[1].ContextMap()["terminal"])
	require.Contains(t, entries[1].ContextMap(), "dur")
	require.NoError(t, sink.Close(context.Background()))
}
