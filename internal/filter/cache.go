package filter

import (
	"context"
	"sync"
	"time"
)

// Loader fetches the active rule set from the rule store. Implementations
// may block on I/O.
type Loader interface {
	ListActiveRules(ctx context.Context) ([]Rule, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) ([]Rule, error)

// ListActiveRules calls f.
func (f LoaderFunc) ListActiveRules(ctx context.Context) ([]Rule, error) {
	return f(ctx)
}

// Cache holds a sorted snapshot of the rule set with an expiry timestamp.
// It is the one piece of process-wide shared mutable state in the pipeline:
// multiple concurrent streams read it and, on expiry, refresh it. Access is
// mutex-guarded; a stale-but-consistent snapshot within the TTL window is
// acceptable.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	rules    []Rule
	loadedAt time.Time
	valid    bool
}

// NewCache creates a rule cache with the given TTL. A TTL of zero means every
// Get reloads.
func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the cached rule snapshot, reloading from the store if the cache
// is empty or past its TTL. The snapshot is sorted on load.
func (c *Cache) Get(ctx context.Context) ([]Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.loadedAt) < c.ttl {
		return c.rules, nil
	}

	rules, err := c.loader.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	SortRules(rules)

	c.rules = rules
	c.loadedAt = c.now()
	c.valid = true
	return c.rules, nil
}

// Invalidate clears the snapshot, forcing the next Get to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = nil
	c.valid = false
}
