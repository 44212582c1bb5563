package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progress-tracker/internal/storage/memory"
	"github.com/JakeFAU/progress-tracker/internal/store"
	"github.com/JakeFAU/progress-tracker/internal/stream"
	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type testEnv struct {
	server *Server
	svc    *tracker.Service
	clock  *fakeClock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := memory.NewKVStore(clock)
	svc := tracker.NewService(st, nil, clock, &fakeIDGen{}, tracker.DefaultConfig(), nil)
	sessions := stream.NewSession(svc, stream.Config{PollInterval: time.Millisecond, HeartbeatInterval: -1}, nil)
	return testEnv{
		server: NewServer(svc, sessions, Options{}),
		svc:    svc,
		clock:  clock,
	}
}

type testEnvelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func (e testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	var env testEnvelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env testEnvelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec, _ := newTestEnv(t).do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_ReadyzReportsBackend(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(env.svc, nil, Options{Ready: func(context.Context) error { return errors.New("dial tcp") }})
	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "dial tcp")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/healthz", "")
	rec, _ := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RequestIDEchoed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec, _ = env.do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type panickingService struct {
	TrackerService
}

func (panickingService) Get(context.Context, string) (tracker.Tracker, error) {
	panic("boom")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	srv := NewServer(panickingService{}, nil, Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

type brokenStore struct{}

func (brokenStore) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis: connection refused")
}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("redis: connection refused")
}
func (brokenStore) Delete(context.Context, string) error { return nil }
func (brokenStore) Scan(context.Context, string) ([]string, error) {
	return nil, errors.New("redis: connection refused")
}
func (brokenStore) Close() error { return nil }

var _ store.Store = brokenStore{}

func TestServer_StoreUnavailableIsRetryable(t *testing.T) {
	t.Parallel()

	svc := tracker.NewService(brokenStore{}, nil, &fakeClock{}, &fakeIDGen{}, tracker.DefaultConfig(), nil)
	srv := NewServer(svc, nil, Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/progress",
		strings.NewReader(`{"operation":"x","total_steps":1}`)))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.NotContains(t, rec.Body.String(), "connection refused")
}
