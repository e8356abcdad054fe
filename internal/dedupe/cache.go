// ABOUTME: Thread-safe TTL cache of seen message ids.
// ABOUTME: Guards the secondary insert path when REST and realtime race.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultTTL covers the window in which a send response and its
	// realtime echo can plausibly race each other.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxSize bounds memory for long-lived conversation screens.
	DefaultMaxSize = 4096

	cleanupInterval = time.Minute
)

// entry pairs the remember time with the id's position in eviction order.
type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers message ids for a TTL with a hard size cap. Eviction is
// insertion-ordered via a doubly-linked list so the oldest id goes first in
// O(1). All methods are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ids     map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. Non-positive
// arguments fall back to the defaults. A background goroutine sweeps expired
// ids until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		ids:     make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether id was remembered within the TTL window.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.ids[id]
	return ok && time.Since(e.at) < c.ttl
}

// Remember records id, refreshing its position if already present. At
// capacity the oldest id is evicted.
func (c *Cache) Remember(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberLocked(id)
}

// SeenOrRemember atomically checks and records id. It returns true if the id
// was already in the window (duplicate), false if it is new and now recorded.
func (c *Cache) SeenOrRemember(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.ids[id]; ok && time.Since(e.at) < c.ttl {
		return true
	}
	c.rememberLocked(id)
	return false
}

func (c *Cache) rememberLocked(id string) {
	now := time.Now()

	if e, ok := c.ids[id]; ok {
		e.at = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.ids) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.ids, oldest)
		}
	}

	elem := c.order.PushBack(id)
	c.ids[id] = &entry{at: now, elem: elem}
}

// sweepLoop periodically drops expired ids until Close.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.ids {
		if now.Sub(e.at) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.ids, id)
		}
	}
}

// Len returns the number of remembered ids, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
