package blobstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps a Store and counts GetRange calls, so tests can
// assert the cache actually avoids repeat fetches.
type countingStore struct {
	Store
	rangeCalls int
}

func (c *countingStore) GetRange(ctx context.Context, key string, start, length int64) ([]byte, error) {
	c.rangeCalls++
	return c.Store.GetRange(ctx, key, start, length)
}

func TestCached_GetRangeReusesCachedBytes(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, local.Put(ctx, "20260305/39.des", bytes.NewReader([]byte("hello world")), ""))

	counting := &countingStore{Store: local}
	cached := NewCached(counting, DefaultCachedMaxMemoryPerObject)

	first, err := cached.GetRange(ctx, "20260305/39.des", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(first))
	assert.Equal(t, 1, counting.rangeCalls)

	second, err := cached.GetRange(ctx, "20260305/39.des", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(second))
	assert.Equal(t, 1, counting.rangeCalls, "second read of the same range must hit the cache, not the store")

	third, err := cached.GetRange(ctx, "20260305/39.des", 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(third))
	assert.Equal(t, 2, counting.rangeCalls, "a disjoint range is a genuine miss")
}

func TestCached_PassesThroughHeadGetPutList(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	cached := NewCached(local, 0)

	require.NoError(t, cached.Put(ctx, "20260305/39.des", bytes.NewReader([]byte("payload")), ""))

	info, err := cached.Head(ctx, "20260305/39.des")
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), info.Size)

	data, err := cached.Get(ctx, "20260305/39.des")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	keys, err := cached.List(ctx, "20260305")
	require.NoError(t, err)
	assert.Contains(t, keys, "20260305/39.des")
}
