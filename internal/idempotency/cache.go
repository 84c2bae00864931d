// Package idempotency remembers the response to each client idempotency key
// for a limited time, so a retried request gets the original answer.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Cache maps keys to responses with a TTL. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

type entry struct {
	value  any
	stored time.Time
}

// New creates a Cache that forgets entries after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the response stored under key if it has not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.stored) >= c.ttl {
		return nil, false
	}
	return e.value, true
}

// Put stores a response.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, stored: c.now()}
	c.mu.Unlock()
}

// Cleanup drops expired entries.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.stored) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run calls Cleanup every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.Cleanup()
		}
	}
}
