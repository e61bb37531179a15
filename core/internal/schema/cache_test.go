package schema

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapFetcher(calls *atomic.Int64) FetchFunc {
	return func(ctx context.Context, backendID string) (*Snapshot, error) {
		calls.Add(1)
		return &Snapshot{
			BackendID: backendID,
			Tables:    []Table{{Name: "customers"}},
			FetchedAt: time.Now(),
		}, nil
	}
}

func TestCacheGetFetchesOnce(t *testing.T) {
	var calls atomic.Int64
	c, err := NewCache(time.Minute, snapFetcher(&calls), nil)
	require.NoError(t, err)

	snap, err := c.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "default", snap.BackendID)
	assert.Equal(t, time.Minute, snap.TTL)

	_, err = c.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "second Get must hit the cache")
}

func TestCacheInvalidateRefetches(t *testing.T) {
	var calls atomic.Int64
	c, err := NewCache(time.Minute, snapFetcher(&calls), nil)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "default")
	require.NoError(t, err)

	c.Invalidate("default")
	_, ok := c.Peek("default")
	assert.False(t, ok)

	_, err = c.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCachePerBackendTTLOverride(t *testing.T) {
	var calls atomic.Int64
	c, err := NewCache(time.Hour, snapFetcher(&calls), nil)
	require.NoError(t, err)
	c.SetTTL("db_2", time.Minute)

	snap, err := c.Get(context.Background(), "db_2")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, snap.TTL)

	snap, err = c.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, snap.TTL)
}

func TestCacheMergedSkipsFailingBackend(t *testing.T) {
	var calls atomic.Int64
	ok := snapFetcher(&calls)
	c, err := NewCache(time.Minute, func(ctx context.Context, backendID string) (*Snapshot, error) {
		if backendID == "db_down" {
			return nil, errors.New("connection refused")
		}
		return ok(ctx, backendID)
	}, nil)
	require.NoError(t, err)

	out := c.Merged(context.Background(), []string{"default", "db_down", "db_2"})
	assert.Len(t, out, 2)
	assert.Contains(t, out, "default")
	assert.Contains(t, out, "db_2")
	assert.NotContains(t, out, "db_down")
}
