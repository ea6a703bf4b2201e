// ABOUTME: TTL cache of agent graphs with at-most-one-build-per-key.
// ABOUTME: Optional shared-store tier persists detached graphs across processes.

package graphcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/metrics"
)

// DefaultTTL matches the original cache expiration for built graphs.
const DefaultTTL = 30 * time.Minute

// sweepInterval is how often the janitor drops expired entries.
const sweepInterval = time.Minute

// BuildFunc materializes a graph on a cache miss. It runs at most once per
// key at a time; concurrent callers for the same key share its result.
type BuildFunc func(ctx context.Context) (*agency.Graph, error)

// GraphStore is an optional second cache tier shared across processes.
// Only detached graphs pass through it.
type GraphStore interface {
	LoadGraph(ctx context.Context, key string) (*agency.StoredGraph, bool, error)
	SaveGraph(ctx context.Context, key string, g *agency.StoredGraph, expiresAt time.Time) error
	DeleteGraph(ctx context.Context, key string) error
}

// entry is one cached detached graph with its expiry deadline.
type entry struct {
	stored    *agency.StoredGraph
	expiresAt time.Time
}

// Cache holds agent graphs keyed by Key. Entries are stored in detached
// form and every lookup attaches the caller's own client to a fresh live
// graph, so concurrent callers never share mutable state or credentials.
// Builds go through a singleflight group so a cold key is built exactly
// once no matter how many callers race for it. Eviction is TTL-based with
// explicit invalidation on configuration changes.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry

	group  singleflight.Group
	ttl    time.Duration
	store  GraphStore
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// Options configures a Cache.
type Options struct {
	// TTL is the entry lifetime; DefaultTTL if zero.
	TTL time.Duration
	// Store, if set, persists detached graphs for reuse across processes.
	Store GraphStore
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// New creates a cache and starts its expiry janitor.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		entries: make(map[Key]*entry),
		ttl:     opts.TTL,
		store:   opts.Store,
		logger:  logger.With("component", "graphcache"),
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// GetOrBuild returns the graph for key attached to client, building it on
// a miss. Exactly one build runs per key; every concurrent caller receives
// a graph built from the same detached entry, or the same error. Each
// caller gets its own live graph carrying its own client, so a hit never
// exposes one caller's credentials to another. A failed build caches
// nothing. A miss on a conversation-scoped key builds fresh; it never
// falls back to the topology entry.
func (c *Cache) GetOrBuild(ctx context.Context, key Key, client agency.Client, build BuildFunc) (*agency.Graph, error) {
	if s := c.lookup(key); s != nil {
		metrics.RecordCacheHit()
		return c.attach(key, s, client)
	}
	metrics.RecordCacheMiss()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// A concurrent winner may have populated the entry while this
		// caller was queued behind the flight.
		if s := c.lookup(key); s != nil {
			return s, nil
		}

		if s := c.loadStored(ctx, key); s != nil {
			c.put(ctx, key, s, c.ttl, false)
			return s, nil
		}

		metrics.RecordGraphBuild()
		g, err := build(ctx)
		if err != nil {
			metrics.RecordGraphBuildFailure()
			return nil, err
		}
		s := g.Stored()
		c.put(ctx, key, s, c.ttl, true)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return c.attach(key, v.(*agency.StoredGraph), client)
}

// attach materializes a caller-private live graph from a cached entry.
func (c *Cache) attach(key Key, s *agency.StoredGraph, client agency.Client) (*agency.Graph, error) {
	g, err := s.Attach(client)
	if err != nil {
		return nil, fmt.Errorf("attaching cached graph %s: %w", key.String(), err)
	}
	return g, nil
}

// lookup returns the non-expired detached entry for key, or nil.
func (c *Cache) lookup(key Key) *agency.StoredGraph {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e.stored
}

// loadStored tries the shared store tier. Load failures and invalid
// records are logged and treated as misses; the store is a cache, not a
// source of truth.
func (c *Cache) loadStored(ctx context.Context, key Key) *agency.StoredGraph {
	if c.store == nil {
		return nil
	}
	stored, ok, err := c.store.LoadGraph(ctx, key.String())
	if err != nil {
		c.logger.Warn("graph store load failed", "key", key.String(), "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if _, err := stored.Attach(nil); err != nil {
		c.logger.Warn("stored graph rejected", "key", key.String(), "error", err)
		return nil
	}
	c.logger.Debug("graph restored from store", "key", key.String())
	return stored
}

// put caches a detached graph and optionally writes it through to the
// shared store.
func (c *Cache) put(ctx context.Context, key Key, s *agency.StoredGraph, ttl time.Duration, writeThrough bool) {
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	c.entries[key] = &entry{stored: s, expiresAt: expiresAt}
	c.mu.Unlock()

	if writeThrough && c.store != nil {
		if err := c.store.SaveGraph(ctx, key.String(), s, expiresAt); err != nil {
			c.logger.Warn("graph store save failed", "key", key.String(), "error", err)
		}
	}
}

// Put pre-warms the cache with an already-built graph, typically after an
// out-of-band rebuild on a configuration change. The graph is detached on
// the way in; the caller keeps exclusive ownership of its live graph.
func (c *Cache) Put(ctx context.Context, key Key, g *agency.Graph, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.put(ctx, key, g.Stored(), ttl, true)
}

// Invalidate removes the entry for key from both tiers. An in-flight build
// for the key is unaffected; if it completes afterwards it is cached
// fresh. Availability wins over strict freshness here.
func (c *Cache) Invalidate(ctx context.Context, key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.DeleteGraph(ctx, key.String()); err != nil {
			c.logger.Warn("graph store delete failed", "key", key.String(), "error", err)
		}
	}
	c.logger.Debug("cache entry invalidated", "key", key.String())
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweep periodically drops expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
					metrics.RecordCacheEviction()
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the janitor. Safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
