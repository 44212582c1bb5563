package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	clk := &manualClock{now: time.Unix(1_700_000_000, 0)}
	l := New(Config{RPS: 10, Burst: 2, Now: clk.Now})
	require.True(t, l.Enabled())

	ok, _ := l.Allow("client-a")
	require.True(t, ok)
	ok, _ = l.Allow("client-a")
	require.True(t, ok)

	ok, wait := l.Allow("client-a")
	require.False(t, ok)
	require.InDelta(t, 100*time.Millisecond, wait, float64(5*time.Millisecond))

	// Buckets are independent per client.
	ok, _ = l.Allow("client-b")
	require.True(t, ok)

	clk.Advance(100 * time.Millisecond)
	ok, _ = l.Allow("client-a")
	require.True(t, ok)
}

func TestLimiter_DisabledAlwaysAllows(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for range 100 {
		ok, wait := l.Allow("x")
		require.True(t, ok)
		require.Zero(t, wait)
	}
	require.Zero(t, l.Len())

	var nilLimiter *Limiter
	ok, _ := nilLimiter.Allow("x")
	require.True(t, ok)
}

func TestLimiter_EvictsIdleClients(t *testing.T) {
	t.Parallel()

	clk := &manualClock{now: time.Unix(1_700_000_000, 0)}
	l := New(Config{RPS: 1, Burst: 1, MaxClients: 2, IdleAfter: time.Minute, Now: clk.Now})

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Len())

	clk.Advance(2 * time.Minute)
	l.Allow("c")
	require.Equal(t, 1, l.Len())
}
