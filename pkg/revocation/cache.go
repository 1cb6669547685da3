// Package revocation answers "is this token revoked?" with a bounded
// staleness window. A process-local TTL cache fronts the revocation
// store; on store outage the cache serves stale entries and otherwise
// fails closed.
package revocation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

const (
	// DefaultTTL bounds how long a cached verdict is trusted.
	DefaultTTL = 30 * time.Second
	// DefaultMaxEntries caps the cache size.
	DefaultMaxEntries = 10_000
)

// Store is the persistent revocation list.
type Store interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, rev contracts.TokenRevocation) error
}

type entry struct {
	revoked  bool
	cachedAt time.Time
}

// Cache is the process-local revocation cache. It is not coherent
// across replicas: a revocation may be honored up to TTL late on other
// replicas, which is the documented staleness bound.
type Cache struct {
	store      Store
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithMaxEntries overrides the size cap.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a revocation cache over a store.
func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		logger:     slog.Default(),
		now:        time.Now,
		entries:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRevoked resolves a jti. Fresh cache entries are served directly;
// otherwise the store is consulted and both positive and negative
// verdicts are cached. On store failure the stale cached value is
// served if one exists; with no cached value the check fails closed.
func (c *Cache) IsRevoked(ctx context.Context, jti string) bool {
	now := c.now()

	c.mu.Lock()
	e, cached := c.entries[jti]
	c.mu.Unlock()

	if cached && now.Sub(e.cachedAt) <= c.ttl {
		return e.revoked
	}

	revoked, err := c.store.IsRevoked(ctx, jti)
	if err != nil {
		if cached {
			c.logger.Warn("revocation store unavailable, serving stale entry",
				"jti", jti, "error", err)
			return e.revoked
		}
		c.logger.Error("revocation store unavailable with no cached entry, failing closed",
			"jti", jti, "error", err)
		return true
	}

	c.put(jti, revoked, now)
	return revoked
}

// Revoke writes the revocation through to the store and caches the
// positive verdict immediately on this replica.
func (c *Cache) Revoke(ctx context.Context, rev contracts.TokenRevocation) error {
	if err := c.store.Revoke(ctx, rev); err != nil {
		return err
	}
	c.put(rev.JTI, true, c.now())
	return nil
}

func (c *Cache) put(jti string, revoked bool, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[jti]; !exists && len(c.entries) >= c.maxEntries {
		c.evictExpiredLocked(now)
		if len(c.entries) >= c.maxEntries {
			// Still full: skip caching rather than evict live entries.
			return
		}
	}
	c.entries[jti] = entry{revoked: revoked, cachedAt: now}
}

func (c *Cache) evictExpiredLocked(now time.Time) {
	for jti, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.entries, jti)
		}
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
