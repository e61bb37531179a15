package core

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/s2"
	"go.uber.org/zap"
)

// ResultCacheProvider is the seam for a shared remote result cache
// (redis, memcached). When nil, the engine uses its in-process store
// only. Values are opaque compressed blobs.
type ResultCacheProvider interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type cacheEntry struct {
	value     []byte
	backendID string
	createdAt time.Time
	ttl       time.Duration
	hitCount  int64
}

func (e *cacheEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.createdAt.Add(e.ttl))
}

// resultCache is the content-addressed query result cache. Keys mix in
// a per-backend generation counter so invalidate(backend) works on
// remote stores without key enumeration: bumping the generation
// orphans old entries, which expire by TTL.
type resultCache struct {
	store  *lru.TwoQueueCache[string, *cacheEntry]
	remote ResultCacheProvider
	ttl    time.Duration
	log    *zap.SugaredLogger

	mu   sync.Mutex
	gens map[string]*atomic.Uint64
}

func newResultCache(size int, ttl time.Duration, remote ResultCacheProvider, log *zap.SugaredLogger) (*resultCache, error) {
	store, err := lru.New2Q[string, *cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &resultCache{
		store:  store,
		remote: remote,
		ttl:    ttl,
		log:    log,
		gens:   map[string]*atomic.Uint64{},
	}, nil
}

// enabled reports whether caching is on at all.
func (c *resultCache) enabled() bool {
	return c != nil && c.ttl > 0
}

func (c *resultCache) gen(backendID string) *atomic.Uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gens[backendID]
	if !ok {
		g = &atomic.Uint64{}
		c.gens[backendID] = g
	}
	return g
}

// key derives the cache key: SHA-256 over backend id, normalized SQL
// and canonical params, separated by 0x1f, plus the backend's current
// generation.
func (c *resultCache) key(backendID, sqlText string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(backendID))
	h.Write([]byte{0x1f})
	h.Write([]byte(normalizeSQL(sqlText)))
	h.Write([]byte{0x1f})
	h.Write(canonicalParams(params))

	var gen [8]byte
	binary.BigEndian.PutUint64(gen[:], c.gen(backendID).Load())
	h.Write([]byte{0x1f})
	h.Write(gen[:])

	return hex.EncodeToString(h.Sum(nil))
}

// canonicalParams renders params as JSON with sorted keys so logically
// equal maps hash identically.
func canonicalParams(params map[string]any) []byte {
	if len(params) == 0 {
		return []byte("{}")
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte("{")
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(params[k])
		if err != nil {
			vb = []byte("null")
		}
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, vb...)
	}
	return append(out, '}')
}

// get returns a cached result set for the statement, if present and
// fresh. The in-process store is consulted first, then the remote.
func (c *resultCache) get(ctx context.Context, backendID, sqlText string, params map[string]any) (*ResultSet, bool) {
	if !c.enabled() {
		return nil, false
	}
	key := c.key(backendID, sqlText, params)
	now := time.Now()

	if e, ok := c.store.Get(key); ok {
		if e.expired(now) {
			c.store.Remove(key)
		} else {
			atomic.AddInt64(&e.hitCount, 1)
			if rs, err := decodeResultSet(e.value); err == nil {
				return rs, true
			}
		}
	}

	if c.remote != nil {
		blob, ok, err := c.remote.Get(ctx, key)
		if err != nil {
			if c.log != nil {
				c.log.Warnf("result cache: remote get failed: %s", err)
			}
			return nil, false
		}
		if ok {
			if rs, err := decodeResultSet(blob); err == nil {
				c.store.Add(key, &cacheEntry{
					value: blob, backendID: backendID, createdAt: now, ttl: c.ttl,
				})
				return rs, true
			}
		}
	}
	return nil, false
}

// set stores a result set for the statement.
func (c *resultCache) set(ctx context.Context, backendID, sqlText string, params map[string]any, rs *ResultSet) {
	if !c.enabled() || rs == nil {
		return
	}
	blob, err := encodeResultSet(rs)
	if err != nil {
		return
	}
	key := c.key(backendID, sqlText, params)
	c.store.Add(key, &cacheEntry{
		value: blob, backendID: backendID, createdAt: time.Now(), ttl: c.ttl,
	})
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, blob, c.ttl); err != nil && c.log != nil {
			c.log.Warnf("result cache: remote set failed: %s", err)
		}
	}
}

// invalidate drops all entries for one backend by bumping its
// generation and sweeping the in-process store.
func (c *resultCache) invalidate(backendID string) {
	if c == nil {
		return
	}
	c.gen(backendID).Add(1)
	for _, key := range c.store.Keys() {
		if e, ok := c.store.Peek(key); ok && e.backendID == backendID {
			c.store.Remove(key)
		}
	}
}

// purge drops everything local. Remote entries age out by TTL.
func (c *resultCache) purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	for _, g := range c.gens {
		g.Add(1)
	}
	c.mu.Unlock()
	c.store.Purge()
}

func (c *resultCache) close() error {
	if c == nil || c.remote == nil {
		return nil
	}
	return c.remote.Close()
}

// encodeResultSet serializes and s2-compresses a result set for cache
// storage.
func encodeResultSet(rs *ResultSet) ([]byte, error) {
	raw, err := json.Marshal(rs)
	if err != nil {
		return nil, err
	}
	return s2.Encode(nil, raw), nil
}

func decodeResultSet(blob []byte) (*ResultSet, error) {
	raw, err := s2.Decode(nil, blob)
	if err != nil {
		return nil, err
	}
	var rs ResultSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}
