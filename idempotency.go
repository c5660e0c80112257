package castellan

import (
	"context"
	"sync"
	"time"
)

// DefaultIdempotencyTTL is how long a cached tool result suppresses
// re-execution of the same (thread, step, args_hash) triple.
const DefaultIdempotencyTTL = 600 * time.Second

// cacheSweepInterval is how often the in-memory cache drops expired entries.
const cacheSweepInterval = 60 * time.Second

// ResultCache is the idempotency store consulted by the Tools node.
// Get returns (nil, nil) for a missing or expired key. The contract maps
// directly onto any kv store with get and set-with-ttl; store/sqlite and
// store/postgres provide durable backends.
type ResultCache interface {
	Get(ctx context.Context, key string) (*ToolOutcome, error)
	Set(ctx context.Context, key string, outcome ToolOutcome, ttl time.Duration) error
}

// MemoryCache is the in-process ResultCache. A background sweeper removes
// expired entries every minute; Close stops it.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	done    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	outcome   ToolOutcome
	expiresAt int64
}

var _ ResultCache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache and starts its sweeper.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]cacheEntry),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached outcome for key, or nil if missing or expired.
func (c *MemoryCache) Get(_ context.Context, key string) (*ToolOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if e.expiresAt < NowUnix() {
		delete(c.entries, key)
		return nil, nil
	}
	out := e.outcome
	return &out, nil
}

// Set stores an outcome under key for ttl.
func (c *MemoryCache) Set(_ context.Context, key string, outcome ToolOutcome, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{outcome: outcome, expiresAt: NowUnix() + int64(ttl/time.Second)}
	return nil
}

// Close stops the background sweeper. Safe to call more than once.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := NowUnix()
			c.mu.Lock()
			for k, e := range c.entries {
				if e.expiresAt < now {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
