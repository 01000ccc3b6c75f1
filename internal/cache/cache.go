package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe string-keyed cache whose entries expire after a fixed duration
type TTL[V any] struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]entry[V]
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache. A non-positive ttl disables storage.
func New[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl: ttl,
		m:   make(map[string]entry[V]),
		now: time.Now,
	}
}

// Get returns the cached value and whether it was present and fresh.
// An expired entry is removed on read.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()

	if ok && !c.now().After(e.expiresAt) {
		c.hits.Add(1)
		return e.value, true
	}

	c.misses.Add(1)
	if ok {
		c.mu.Lock()
		if cur, still := c.m[key]; still && c.now().After(cur.expiresAt) {
			delete(c.m, key)
		}
		c.mu.Unlock()
	}
	var zero V
	return zero, false
}

// Set stores value under key
func (c *TTL[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Purge drops expired entries and returns how many were removed
func (c *TTL[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.m {
		if now.After(e.expiresAt) {
			delete(c.m, k)
			n++
		}
	}
	return n
}

// RunJanitor purges expired entries every interval until ctx is done.
// onPurge, when set, receives the number of entries removed by each sweep.
func (c *TTL[V]) RunJanitor(ctx context.Context, interval time.Duration, onPurge func(removed int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := c.Purge()
			if onPurge != nil {
				onPurge(n)
			}
		}
	}
}

// Len returns the number of stored entries, expired or not
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Stats returns cumulative hit and miss counts
func (c *TTL[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
