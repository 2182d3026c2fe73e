package cache

import (
	"context"
	"sync"
	"time"
)

// Writes sweep expired entries once the map doubles past its last swept size or a
// sweep interval has elapsed, so keys written once and never read again are reclaimed.
const (
	minSweepSize  = 256
	sweepInterval = time.Minute
)

// MemoryProvider is an in-process Provider used when no Valkey endpoint is configured.
// Expired entries are dropped on access and by periodic sweeps on write.
type MemoryProvider struct {
	mu        sync.Mutex
	data      map[string]item
	now       func() time.Time
	nextSweep int
	lastSweep time.Time
}

type item struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]item), now: time.Now, nextSweep: minSweepSize}
}

// maybeSweep runs under c.mu before each write.
func (c *MemoryProvider) maybeSweep() {
	now := c.now()
	if c.lastSweep.IsZero() {
		c.lastSweep = now
	}
	if len(c.data) < c.nextSweep && now.Sub(c.lastSweep) < sweepInterval {
		return
	}
	for key, it := range c.data {
		if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
			delete(c.data, key)
		}
	}
	c.lastSweep = now
	c.nextSweep = max(minSweepSize, 2*len(c.data))
}

func (c *MemoryProvider) live(key string) (item, bool) {
	it, ok := c.data[key]
	if !ok {
		return item{}, false
	}
	if !it.expiresAt.IsZero() && !c.now().Before(it.expiresAt) {
		delete(c.data, key)
		return item{}, false
	}
	return it, true
}

func (c *MemoryProvider) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

// Get retrieves a cached value if present and not expired.
func (c *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.live(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a value with optional TTL.
func (c *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeSweep()
	c.data[key] = item{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return nil
}

// SetNX stores the value only when the key is absent or expired.
func (c *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.maybeSweep()
	c.data[key] = item{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return true, nil
}

// Del removes an entry.
func (c *MemoryProvider) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close drops all entries.
func (c *MemoryProvider) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]item)
	c.nextSweep = minSweepSize
	return nil
}
