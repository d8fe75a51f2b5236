package rangecache

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, content []byte, maxBytes int64) (*RangeCache, *int64) {
	t.Helper()
	rd := bytes.NewReader(content)
	var fetches int64
	rc := NewRangeCache(int64(len(content)), "test-object", func(p []byte, off int64) (int, error) {
		atomic.AddInt64(&fetches, 1)
		return rd.ReadAt(p, off)
	}, maxBytes)
	return rc, &fetches
}

func TestGetRange_FetchesAndCaches(t *testing.T) {
	content := []byte("hello world")
	rc, fetches := newTestCache(t, content, 0)
	ctx := context.Background()

	got, err := rc.GetRange(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.EqualValues(t, 1, *fetches)

	// Same range again: served from cache.
	got, err = rc.GetRange(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.EqualValues(t, 1, *fetches)

	// Sub-range of a cached span: still no fetch.
	got, err = rc.GetRange(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "ell", string(got))
	assert.EqualValues(t, 1, *fetches)
}

func TestGetRange_RejectsOutOfBounds(t *testing.T) {
	rc, _ := newTestCache(t, []byte("abc"), 0)
	_, err := rc.GetRange(context.Background(), 1, 10)
	assert.Error(t, err)
	_, err = rc.GetRange(context.Background(), -1, 2)
	assert.Error(t, err)
}

func TestSetRange_MergesAdjacentSpans(t *testing.T) {
	content := []byte("hello world")
	rc, fetches := newTestCache(t, content, 0)
	ctx := context.Background()

	require.NoError(t, rc.SetRange(ctx, 0, 5, []byte("hello")))
	require.NoError(t, rc.SetRange(ctx, 5, 6, []byte(" world")))

	// The two seeded spans are adjacent, so a read across their boundary
	// is a single cache hit.
	got, err := rc.GetRange(ctx, 3, 6)
	require.NoError(t, err)
	assert.Equal(t, "lo wor", string(got))
	assert.EqualValues(t, 0, *fetches)
	assert.EqualValues(t, len(content), rc.OccupiedBytes())
}

func TestSetRange_NewBytesWinOnOverlap(t *testing.T) {
	rc, _ := newTestCache(t, []byte("xxxxx"), 0)
	ctx := context.Background()

	require.NoError(t, rc.SetRange(ctx, 0, 5, []byte("aaaaa")))
	require.NoError(t, rc.SetRange(ctx, 2, 2, []byte("bb")))

	got, err := rc.GetRange(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "aabba", string(got))
}

func TestEviction_RespectsByteBudget(t *testing.T) {
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	rc, _ := newTestCache(t, content, 10)
	ctx := context.Background()

	_, err := rc.GetRange(ctx, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, rc.OccupiedBytes())

	// A second, disjoint 10-byte span forces the first one out.
	_, err = rc.GetRange(ctx, 50, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, rc.OccupiedBytes())
}

func TestOversizedRangeIsServedButNotCached(t *testing.T) {
	content := make([]byte, 100)
	rc, fetches := newTestCache(t, content, 10)
	ctx := context.Background()

	got, err := rc.GetRange(ctx, 0, 50)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.EqualValues(t, 0, rc.OccupiedBytes())

	_, err = rc.GetRange(ctx, 0, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 2, *fetches)
}
