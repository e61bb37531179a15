package serv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/gomodule/redigo/redis"
)

const cacheKeyPrefix = "askdb:res:"

// redisCache is a shared result cache backed by Redis. It implements
// core.ResultCacheProvider; values are the engine's opaque compressed
// blobs.
type redisCache struct {
	pool *redis.Pool
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(url string) (*redisCache, error) {
	pool := &redis.Pool{
		MaxIdle:     4,
		MaxActive:   16,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	conn := pool.Get()
	defer conn.Close() //nolint:errcheck

	if _, err := conn.Do("PING"); err != nil {
		pool.Close() //nolint:errcheck
		return nil, err
	}
	return &redisCache{pool: pool}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close() //nolint:errcheck

	data, err := redis.Bytes(conn.Do("GET", cacheKeyPrefix+key))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck

	if ttl > 0 {
		_, err = conn.Do("SET", cacheKeyPrefix+key, value, "PX", ttl.Milliseconds())
	} else {
		_, err = conn.Do("SET", cacheKeyPrefix+key, value)
	}
	return err
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck

	_, err = conn.Do("DEL", cacheKeyPrefix+key)
	return err
}

func (c *redisCache) Close() error {
	return c.pool.Close()
}

// memcacheCache is a shared result cache backed by Memcache
type memcacheCache struct {
	mc *memcache.Client
}

// NewMemcacheCache connects to the given comma-separated memcache
// servers and verifies the connection
func NewMemcacheCache(addresses string) (*memcacheCache, error) {
	servers := strings.Split(addresses, ",")
	for i := range servers {
		servers[i] = strings.TrimSpace(servers[i])
	}

	mc := memcache.New(servers...)
	mc.Timeout = 2 * time.Second

	if err := mc.Ping(); err != nil {
		return nil, err
	}
	return &memcacheCache{mc: mc}, nil
}

func (c *memcacheCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := c.mc.Get(cacheKeyPrefix + key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

func (c *memcacheCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.mc.Set(&memcache.Item{
		Key:        cacheKeyPrefix + key,
		Value:      value,
		Expiration: int32(ttl.Seconds()),
	})
}

func (c *memcacheCache) Delete(ctx context.Context, key string) error {
	err := c.mc.Delete(cacheKeyPrefix + key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (c *memcacheCache) Close() error {
	return nil
}
