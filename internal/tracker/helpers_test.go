package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progress-tracker/internal/progress"
	"github.com/JakeFAU/progress-tracker/internal/storage/memory"
	"github.com/JakeFAU/progress-tracker/internal/store"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
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

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []progress.Notification
}

func (r *recordingEmitter) Emit(n progress.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingEmitter) kinds() []progress.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

// brokenStore fails every call, standing in for an unreachable backend.
type brokenStore struct{}

var errBackendDown = errors.New("connection refused")

func (brokenStore) Put(context.Context, string, []byte, time.Duration) error { return errBackendDown }
func (brokenStore) Get(context.Context, string) ([]byte, error)              { return nil, errBackendDown }
func (brokenStore) Delete(context.Context, string) error                     { return errBackendDown }
func (brokenStore) Scan(context.Context, string) ([]string, error)           { return nil, errBackendDown }
func (brokenStore) Close() error                                             { return nil }

// purgingStore counts PurgeExpired calls on top of the memory store.
type purgingStore struct {
	*memory.KVStore
	purges int
}

func (p *purgingStore) PurgeExpired(context.Context) (int64, error) {
	p.purges++
	return 3, nil
}

var _ store.Purger = (*purgingStore)(nil)

type fixture struct {
	svc     *Service
	clock   *fakeClock
	store   *memory.KVStore
	emitter *recordingEmitter
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	clock := newFakeClock()
	st := memory.NewKVStore(clock)
	em := &recordingEmitter{}
	return fixture{
		svc:     NewService(st, em, clock, &seqIDs{}, cfg, nil),
		clock:   clock,
		store:   st,
		emitter: em,
	}
}

func (f fixture) create(t *testing.T, req CreateRequest) Tracker {
	t.Helper()
	if req.Operation == "" {
		req.Operation = "import"
	}
	if req.TotalSteps == 0 {
		req.TotalSteps = 4
	}
	tr, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return tr
}

func (f fixture) update(t *testing.T, id string, u Update) Tracker {
	t.Helper()
	tr, err := f.svc.Update(context.Background(), id, u)
	require.NoError(t, err)
	return tr
}

func ptr[T any](v T) *T {
	return &v
}

func status(s Status) *Status {
	return &s
}
