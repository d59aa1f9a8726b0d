// ABOUTME: Thread-safe TTL cache remembering recently accepted client correlation ids
// ABOUTME: Lets the chat service reject a resent message instead of storing it twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache is a TTL-bound, size-limited set of keys. Keys are held in insertion
// order so the oldest can be evicted in O(1) when the cache is full.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and capacity and starts a janitor
// goroutine that drops expired keys. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *Cache) live(e *cacheEntry) bool {
	return c.now().Sub(e.markedAt) < c.ttl
}

// Check reports whether key was marked within the TTL.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && c.live(e)
}

// CheckAndMark marks key and reports whether it was already live.
// A true result means the caller is looking at a duplicate.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && c.live(e) {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key, refreshing its TTL if it is already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Forget removes key so a later CheckAndMark treats it as new. Used to
// release a reservation when the guarded operation failed.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := c.now()

	if e, ok := c.seen[key]; ok {
		e.markedAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(string))
		}
	}

	c.seen[key] = &cacheEntry{markedAt: now, element: c.order.PushBack(key)}
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(time.Minute)
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

// sweep drops expired keys. Entries are in mark order, so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if c.live(c.seen[key]) {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// Close stops the janitor. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
