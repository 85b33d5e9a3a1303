// ABOUTME: Tests for the failed-login guard.
// ABOUTME: Validates the attempt limit, window expiry, reset, eviction, cleanup, and concurrency safety.

package loginguard

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time forward without sleeping.
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGuard(t *testing.T, window time.Duration, maxAttempts, maxSize int) (*Guard, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := New(window, maxAttempts, maxSize)
	g.now = clock.Now
	t.Cleanup(g.Close)
	return g, clock
}

func TestGuard_BlocksAfterMaxAttempts(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 3, 100)

	for i := 1; i <= 3; i++ {
		assert.True(t, g.Allowed("1.2.3.4"), "attempt %d should be allowed", i)
		assert.Equal(t, i, g.Fail("1.2.3.4"))
	}
	assert.False(t, g.Allowed("1.2.3.4"))
	assert.Greater(t, g.RetryAfter("1.2.3.4"), time.Duration(0))

	// Other addresses are unaffected
	assert.True(t, g.Allowed("5.6.7.8"))
	assert.Zero(t, g.RetryAfter("5.6.7.8"))
}

func TestGuard_WindowExpires(t *testing.T) {
	g, clock := newTestGuard(t, time.Minute, 2, 100)

	g.Fail("a")
	g.Fail("a")
	assert.False(t, g.Allowed("a"))

	clock.Advance(time.Minute)
	assert.True(t, g.Allowed("a"))

	// A new failure starts a fresh window
	assert.Equal(t, 1, g.Fail("a"))
}

func TestGuard_Reset(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 1, 100)

	g.Fail("a")
	assert.False(t, g.Allowed("a"))

	g.Reset("a")
	assert.True(t, g.Allowed("a"))
	assert.Equal(t, 0, g.Len())
}

func TestGuard_EvictsOldestAtCapacity(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 1, 3)

	for i := 0; i < 4; i++ {
		g.Fail(fmt.Sprintf("addr-%d", i))
	}

	assert.Equal(t, 3, g.Len())
	// addr-0 was evicted and is allowed again
	assert.True(t, g.Allowed("addr-0"))
	assert.False(t, g.Allowed("addr-3"))
}

func TestGuard_RunCleanup(t *testing.T) {
	g, clock := newTestGuard(t, time.Minute, 5, 100)

	g.Fail("a")
	g.Fail("b")
	clock.Advance(2 * time.Minute)
	g.Fail("c")

	g.runCleanup()
	assert.Equal(t, 1, g.Len())
}

func TestGuard_CloseIdempotent(t *testing.T) {
	g := New(time.Minute, 1, 10)
	g.Close()
	g.Close()
}

func TestGuard_Concurrent(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 1000, 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Fail("shared")
			g.Allowed("shared")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 51, g.Fail("shared"))
}
