package schema

import (
	"context"
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a snapshot stays fresh unless the backend
// overrides it.
const DefaultTTL = time.Hour

// FetchFunc introspects one backend and returns a fresh snapshot.
type FetchFunc func(ctx context.Context, backendID string) (*Snapshot, error)

// Cache keeps at most one snapshot per backend. Refreshes are
// deduplicated per backend with a single-flight group; readers under a
// concurrent refresh may get the stale snapshot, which is acceptable.
type Cache struct {
	store      cache.Cache
	fetch      FetchFunc
	defaultTTL time.Duration
	log        *zap.SugaredLogger

	mu   sync.RWMutex
	ttls map[string]time.Duration

	group singleflight.Group
}

// NewCache creates a snapshot cache. fetch is called on misses and
// after TTL expiry.
func NewCache(defaultTTL time.Duration, fetch FetchFunc, log *zap.SugaredLogger) (*Cache, error) {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	store, err := cache.NewCache(cache.MaxKeys(256), cache.TTL(defaultTTL))
	if err != nil {
		return nil, err
	}
	return &Cache{
		store:      store,
		fetch:      fetch,
		defaultTTL: defaultTTL,
		log:        log,
		ttls:       map[string]time.Duration{},
	}, nil
}

// SetTTL overrides the snapshot TTL for one backend.
func (c *Cache) SetTTL(backendID string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.ttls[backendID] = ttl
	c.mu.Unlock()
}

func (c *Cache) ttlFor(backendID string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ttl, ok := c.ttls[backendID]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Get returns the cached snapshot for backendID, refreshing it through
// the fetch function when missing or expired. Concurrent callers share
// one in-flight refresh per backend.
func (c *Cache) Get(ctx context.Context, backendID string) (*Snapshot, error) {
	if v, ok := c.store.Get(backendID); ok {
		if snap, ok := v.(*Snapshot); ok && snap.Fresh(time.Now()) {
			return snap, nil
		}
	}

	v, err, shared := c.group.Do(backendID, func() (any, error) {
		// double check after winning the flight
		if v, ok := c.store.Get(backendID); ok {
			if snap, ok := v.(*Snapshot); ok && snap.Fresh(time.Now()) {
				return snap, nil
			}
		}

		ttl := c.ttlFor(backendID)
		snap, err := c.fetch(ctx, backendID)
		if err != nil {
			return nil, err
		}
		snap.TTL = ttl
		c.store.Set(backendID, snap, ttl)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	if shared && c.log != nil {
		c.log.Debugf("schema refresh shared for backend %s", backendID)
	}
	return v.(*Snapshot), nil
}

// Peek returns the cached snapshot without triggering a refresh.
func (c *Cache) Peek(backendID string) (*Snapshot, bool) {
	v, ok := c.store.Get(backendID)
	if !ok {
		return nil, false
	}
	snap, ok := v.(*Snapshot)
	return snap, ok
}

// Invalidate drops the snapshot for one backend.
func (c *Cache) Invalidate(backendID string) {
	c.store.Invalidate(backendID)
}

// Purge drops every snapshot.
func (c *Cache) Purge() {
	c.store.Purge()
}

// Merged fetches snapshots for all the given backends and returns them
// keyed by backend id. A backend whose refresh fails is skipped with a
// warning; cross-backend callers tolerate partial views.
func (c *Cache) Merged(ctx context.Context, backendIDs []string) map[string]*Snapshot {
	out := make(map[string]*Snapshot, len(backendIDs))
	for _, id := range backendIDs {
		snap, err := c.Get(ctx, id)
		if err != nil {
			if c.log != nil {
				c.log.Warnf("merged schema: skipping backend %s: %s", id, err)
			}
			continue
		}
		out[id] = snap
	}
	return out
}
