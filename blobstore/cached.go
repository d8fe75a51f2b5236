// Caching decorator over a Store's ranged reads. One rangecache.RangeCache
// is held per object key, since a single shard typically serves several
// overlapping range-GETs: payload reads from the sidecar-hit path and the
// cold header/footer/index fallback can land on the same object within one
// retriever session.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"sync"

	rangecache "github.com/datavisioneasystore/des/range-cache"
)

// DefaultCachedMaxMemoryPerObject bounds how many bytes of any single
// object's ranges Cached keeps resident before evicting via LRU.
const DefaultCachedMaxMemoryPerObject = 4 << 20 // 4 MiB

// Cached wraps a Store, memoizing GetRange results per object key through
// a rangecache.RangeCache. Head, Get, Put, and List pass straight through;
// only the ranged-read path the retriever and sidecar rebuild rely on is
// cached.
type Cached struct {
	inner              Store
	maxMemoryPerObject int64
	mu                 sync.Mutex
	caches             map[string]*rangecache.RangeCache
}

// NewCached returns a Store that range-caches reads against inner.
// maxMemoryPerObject <= 0 selects DefaultCachedMaxMemoryPerObject.
func NewCached(inner Store, maxMemoryPerObject int64) *Cached {
	if maxMemoryPerObject <= 0 {
		maxMemoryPerObject = DefaultCachedMaxMemoryPerObject
	}
	return &Cached{
		inner:              inner,
		maxMemoryPerObject: maxMemoryPerObject,
		caches:             make(map[string]*rangecache.RangeCache),
	}
}

func (c *Cached) Head(ctx context.Context, key string) (ObjectInfo, error) {
	return c.inner.Head(ctx, key)
}

func (c *Cached) Get(ctx context.Context, key string) ([]byte, error) {
	return c.inner.Get(ctx, key)
}

func (c *Cached) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	return c.inner.Put(ctx, key, body, contentType)
}

func (c *Cached) List(ctx context.Context, prefix string) ([]string, error) {
	return c.inner.List(ctx, prefix)
}

// GetSuffix is not range-cached: a suffix read's absolute offset depends
// on the object's total size, which Cached only learns once it already
// needs a Head — not worth a cache entry for what is, per object, a
// single footer read per cold path.
func (c *Cached) GetSuffix(ctx context.Context, key string, length int64) ([]byte, int64, error) {
	return c.inner.GetSuffix(ctx, key, length)
}

// GetRange serves start..start+length of key from the per-object
// RangeCache, populating it from the wrapped Store on a miss.
func (c *Cached) GetRange(ctx context.Context, key string, start, length int64) ([]byte, error) {
	rc, err := c.rangeCacheFor(ctx, key)
	if err != nil {
		return nil, err
	}
	return rc.GetRange(ctx, start, length)
}

func (c *Cached) rangeCacheFor(ctx context.Context, key string) (*rangecache.RangeCache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.caches[key]; ok {
		return rc, nil
	}

	info, err := c.inner.Head(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("blobstore: caching range reads for %s: %w", key, err)
	}

	fetcher := func(p []byte, off int64) (int, error) {
		data, err := c.inner.GetRange(context.Background(), key, off, int64(len(p)))
		if err != nil {
			return 0, err
		}
		n := copy(p, data)
		return n, nil
	}

	rc := rangecache.NewRangeCache(info.Size, key, fetcher, c.maxMemoryPerObject)
	c.caches[key] = rc
	return rc, nil
}
