package retriever

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/datavisioneasystore/des/shard"
)

// indexCacheKey identifies a parsed index by (owning store, object key).
// blobstore.Store does not expose a bucket name directly (a Remote wraps
// one base URL per bucket), so the owning store is identified by the
// store value handed to New.
type indexCacheKey struct {
	store objectKey
	key   string
}

// objectKey is the comparable value that distinguishes stores sharing one
// cache. The Retriever always supplies its own store.
type objectKey any

// IndexCache is an LRU cache of a shard's parsed header/footer/index,
// shared across a Retriever's concurrent Get calls so repeat reads of the
// same shard never re-fetch its index.
type IndexCache struct {
	cache *lru.Cache[indexCacheKey, *shard.RemoteIndex]
}

// NewIndexCache returns a cache holding up to size parsed shard indexes.
func NewIndexCache(size int) (*IndexCache, error) {
	if size <= 0 {
		size = 1000
	}
	c, err := lru.New[indexCacheKey, *shard.RemoteIndex](size)
	if err != nil {
		return nil, err
	}
	return &IndexCache{cache: c}, nil
}

func (c *IndexCache) get(store objectKey, key string) (*shard.RemoteIndex, bool) {
	return c.cache.Get(indexCacheKey{store: store, key: key})
}

func (c *IndexCache) put(store objectKey, key string, idx *shard.RemoteIndex) {
	c.cache.Add(indexCacheKey{store: store, key: key}, idx)
}
