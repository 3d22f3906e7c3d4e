package upstream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Ticket records the cache generation observed by a miss. PutIfCurrent uses it
// to refuse an insert that raced an invalidation.
type Ticket struct {
	epoch      uint64
	generation uint64
}

type cacheEntry struct {
	client    *Client
	createdAt time.Time
}

// ClientCache maps account id to a ready-made Client. Entries live for a fixed
// TTL from insertion regardless of use. Expired entries are never returned,
// whether or not the sweeper has run yet.
//
// The cache cannot observe credential changes: whoever mutates an account's
// tokens must call Invalidate.
type ClientCache struct {
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger

	mu          sync.Mutex
	entries     map[string]cacheEntry
	generations map[string]uint64
	epoch       uint64

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// CacheOption configures a ClientCache.
type CacheOption func(*ClientCache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ClientCache) { c.now = now }
}

// WithSweepInterval sets how often the background sweeper runs.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *ClientCache) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithCacheLogger attaches a logger for sweep diagnostics.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *ClientCache) { c.logger = logger }
}

// NewClientCache creates a cache whose entries expire ttl after insertion.
func NewClientCache(ttl time.Duration, opts ...CacheOption) *ClientCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &ClientCache{
		ttl:           ttl,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        zap.NewNop(),
		entries:       make(map[string]cacheEntry),
		generations:   make(map[string]uint64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached client, or false on a miss or an expired entry.
func (c *ClientCache) Get(accountID string) (*Client, bool) {
	client, _, ok := c.Lookup(accountID)
	return client, ok
}

// Lookup is Get plus the ticket to hand to PutIfCurrent after a miss.
func (c *ClientCache) Lookup(accountID string) (*Client, Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ticket := Ticket{epoch: c.epoch, generation: c.generations[accountID]}
	entry, ok := c.entries[accountID]
	if !ok {
		return nil, ticket, false
	}
	if c.expired(entry) {
		delete(c.entries, accountID)
		return nil, ticket, false
	}
	return entry.client, ticket, true
}

// Put stores client unconditionally; the last Put wins.
func (c *ClientCache) Put(accountID string, client *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[accountID] = cacheEntry{client: client, createdAt: c.now()}
}

// PutIfCurrent stores client only if no invalidation happened since ticket was
// taken. It reports whether the entry was stored.
func (c *ClientCache) PutIfCurrent(accountID string, client *Client, ticket Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ticket.epoch != c.epoch || ticket.generation != c.generations[accountID] {
		return false
	}
	c.entries[accountID] = cacheEntry{client: client, createdAt: c.now()}
	return true
}

// Invalidate drops the account's entry and fences off in-flight inserts.
func (c *ClientCache) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
	c.generations[accountID]++
}

// InvalidateAll empties the cache.
func (c *ClientCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.epoch++
}

// Len counts stored entries, expired ones included until swept.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *ClientCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Start runs the sweeper until ctx is done or Stop is called.
func (c *ClientCache) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("swept expired upstream clients", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Stop halts the sweeper started by Start and waits for it to exit.
func (c *ClientCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.started.Load() {
			<-c.done
		}
	})
}

func (c *ClientCache) expired(entry cacheEntry) bool {
	return c.now().Sub(entry.createdAt) >= c.ttl
}
