// ABOUTME: Thread-safe per-address counter of failed admin logins with a TTL window
// ABOUTME: Blocks further attempts from an address once it exceeds the allowed failures

package loginguard

import (
	"container/list"
	"sync"
	"time"
)

// attempts stores the failure count of one address and its list element.
type attempts struct {
	first   time.Time
	count   int
	element *list.Element
}

// Guard throttles password guessing. Each address may fail maxAttempts times
// per window; further attempts are refused until the window has passed since
// its first failure. Tracked addresses are capped at maxSize, evicting the
// oldest, so a flood of addresses cannot grow memory without bound.
type Guard struct {
	mu          sync.Mutex
	seen        map[string]*attempts
	order       *list.List // addresses in first-failure order (oldest at front)
	window      time.Duration
	maxAttempts int
	maxSize     int
	now         func() time.Time
	done        chan struct{}
	closed      bool
}

// New creates a guard. A background goroutine periodically drops expired
// entries until Close is called.
func New(window time.Duration, maxAttempts, maxSize int) *Guard {
	g := &Guard{
		seen:        make(map[string]*attempts),
		order:       list.New(),
		window:      window,
		maxAttempts: maxAttempts,
		maxSize:     maxSize,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	go g.cleanup()
	return g
}

// Allowed reports whether addr may attempt a login now.
func (g *Guard) Allowed(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.seen[addr]
	if !ok || g.expired(entry) {
		return true
	}
	return entry.count < g.maxAttempts
}

// RetryAfter returns how long addr must wait before it is allowed again, or
// zero if it is allowed now.
func (g *Guard) RetryAfter(addr string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.seen[addr]
	if !ok || g.expired(entry) || entry.count < g.maxAttempts {
		return 0
	}
	return entry.first.Add(g.window).Sub(g.now())
}

// Fail records a failed attempt from addr and returns the failures counted in
// the current window.
func (g *Guard) Fail(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.seen[addr]; ok {
		if !g.expired(entry) {
			entry.count++
			return entry.count
		}
		g.order.Remove(entry.element)
		delete(g.seen, addr)
	}

	if len(g.seen) >= g.maxSize {
		g.evictOldest()
	}

	elem := g.order.PushBack(addr)
	g.seen[addr] = &attempts{first: g.now(), count: 1, element: elem}
	return 1
}

// Reset forgets addr's failures, called after a successful login.
func (g *Guard) Reset(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.seen[addr]; ok {
		g.order.Remove(entry.element)
		delete(g.seen, addr)
	}
}

// Len returns the number of tracked addresses.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// expired must be called with mu held.
func (g *Guard) expired(entry *attempts) bool {
	return g.now().Sub(entry.first) >= g.window
}

// evictOldest must be called with mu held.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	addr, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, addr)
}

func (g *Guard) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.runCleanup()
		case <-g.done:
			return
		}
	}
}

func (g *Guard) runCleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for addr, entry := range g.seen {
		if g.expired(entry) {
			g.order.Remove(entry.element)
			delete(g.seen, addr)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
