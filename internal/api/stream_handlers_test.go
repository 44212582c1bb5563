package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progress-tracker/internal/clock/system"
	"github.com/JakeFAU/progress-tracker/internal/storage/memory"
	"github.com/JakeFAU/progress-tracker/internal/stream"
	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

type sseEvent struct {
	name string
	data string
}

// readEvents parses SSE frames until the body closes, skipping comments.
func readEvents(t *testing.T, resp *http.Response, out chan<- sseEvent) {
	t.Helper()
	defer close(out)
	scanner := bufio.NewScanner(resp.Body)
	var cur sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.name != "" {
				out <- cur
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return sseEvent{}
	}
}

func newStreamServer(t *testing.T) (*httptest.Server, *tracker.Service) {
	t.Helper()
	clk := system.New()
	svc := tracker.NewService(memory.NewKVStore(clk), nil, clk, &fakeIDGen{}, tracker.DefaultConfig(), nil)
	sessions := stream.NewSession(svc, stream.Config{PollInterval: 5 * time.Millisecond, HeartbeatInterval: -1}, nil)
	ts := httptest.NewServer(NewServer(svc, sessions, Options{}).Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func TestStream_UnknownTrackerIs404(t *testing.T) {
	t.Parallel()

	ts, _ := newStreamServer(t)
	resp, err := http.Get(ts.URL + "/v1/progress/stream?tracker_id=missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/v1/progress/stream")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestStream_EmitsUntilCancelled(t *testing.T) {
	t.Parallel()

	ts, svc := newStreamServer(t)
	ctx := context.Background()
	tr, err := svc.Create(ctx, tracker.CreateRequest{Operation: "sync", TotalSteps: 4})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/v1/progress/stream?tracker_id=" + tr.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 16)
	go readEvents(t, resp, events)

	first := nextEvent(t, events)
	require.Equal(t, "progress", first.name)

	step := 1
	_, err = svc.Update(ctx, tr.ID, tracker.Update{CurrentStep: &step})
	require.NoError(t, err)
	ev := nextEvent(t, events)
	require.Equal(t, "progress", ev.name)
	var snap tracker.Tracker
	require.NoError(t, json.Unmarshal([]byte(ev.data), &snap))
	require.Equal(t, 1, snap.CurrentStep)

	cancelled := tracker.StatusCancelled
	_, err = svc.Update(ctx, tr.ID, tracker.Update{Status: &cancelled})
	require.NoError(t, err)

	ev = nextEvent(t, events)
	require.Equal(t, "progress", ev.name)
	require.NoError(t, json.Unmarshal([]byte(ev.data), &snap))
	require.Equal(t, tracker.StatusCancelled, snap.Status)

	require.Equal(t, "end", nextEvent(t, events).name)
	_, open := <-events
	require.False(t, open, "stream must close after the terminal snapshot")
}

func TestStream_ReportsDisappearance(t *testing.T) {
	t.Parallel()

	ts, svc := newStreamServer(t)
	ctx := context.Background()
	tr, err := svc.Create(ctx, tracker.CreateRequest{Operation: "sync", TotalSteps: 1})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/v1/progress/stream?tracker_id=" + tr.ID)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := make(chan sseEvent, 16)
	go readEvents(t, resp, events)
	require.Equal(t, "progress", nextEvent(t, events).name)

	require.NoError(t, svc.Delete(ctx, tr.ID))
	ev := nextEvent(t, events)
	require.Equal(t, "error", ev.name)
	require.Contains(t, ev.data, "tracker not found")
}
