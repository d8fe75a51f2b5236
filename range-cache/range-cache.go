// Package rangecache keeps recently fetched byte ranges of a single
// remote object in memory, merging overlapping spans so repeated reads of
// a shard's header, footer, index, and payloads never refetch bytes the
// process already holds.
//
// Eviction is LRU by span, bounded by a per-object byte budget.
package rangecache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// FetchFunc reads len(p) bytes at off from the underlying object,
// io.ReaderAt style.
type FetchFunc func(p []byte, off int64) (int, error)

// span is the half-open byte interval [start, end).
type span struct {
	start, end int64
}

func (s span) length() int64 { return s.end - s.start }

func (s span) contains(other span) bool {
	return s.start <= other.start && s.end >= other.end
}

// overlapsOrTouches reports whether s and other share bytes or are
// directly adjacent, i.e. their union is one contiguous span.
func (s span) overlapsOrTouches(other span) bool {
	return s.start <= other.end && other.start <= s.end
}

func (s span) validFor(size int64) bool {
	return s.start >= 0 && s.end <= size && s.start <= s.end
}

// RangeCache memoizes ranged reads of one object. Cached spans are kept
// non-overlapping: an insert absorbs every span it overlaps or touches
// into a single contiguous entry.
type RangeCache struct {
	objectKey string
	size      int64
	maxBytes  int64
	fetch     FetchFunc

	mu       sync.Mutex
	spans    map[span][]byte
	lru      *list.List // span values; front is most recently used
	lruElem  map[span]*list.Element
	occupied int64
	inflight map[span]chan struct{}
}

// NewRangeCache returns a cache over an object of the given total size.
// objectKey is used only for logging. maxBytes <= 0 disables eviction.
func NewRangeCache(size int64, objectKey string, fetch FetchFunc, maxBytes int64) *RangeCache {
	if fetch == nil {
		panic("rangecache: fetch must not be nil")
	}
	return &RangeCache{
		objectKey: objectKey,
		size:      size,
		maxBytes:  maxBytes,
		fetch:     fetch,
		spans:     make(map[span][]byte),
		lru:       list.New(),
		lruElem:   make(map[span]*list.Element),
		inflight:  make(map[span]chan struct{}),
	}
}

// Size returns the underlying object's total size.
func (rc *RangeCache) Size() int64 { return rc.size }

// OccupiedBytes returns how many cached bytes are currently resident.
func (rc *RangeCache) OccupiedBytes() int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.occupied
}

// Close drops every cached span.
func (rc *RangeCache) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.spans = make(map[span][]byte)
	rc.lru.Init()
	rc.lruElem = make(map[span]*list.Element)
	rc.occupied = 0
	return nil
}

// GetRange returns bytes [start, start+length) of the object, serving from
// cache when possible. Concurrent misses on the same span are coalesced
// into one fetch.
func (rc *RangeCache) GetRange(ctx context.Context, start, length int64) ([]byte, error) {
	want := span{start, start + length}
	if !want.validFor(rc.size) {
		return nil, fmt.Errorf("rangecache: invalid range [%d,%d) for %s (size %d)", want.start, want.end, rc.objectKey, rc.size)
	}

	rc.mu.Lock()
	for {
		if data, ok := rc.lookup(want); ok {
			rc.mu.Unlock()
			return data, nil
		}
		ch, fetching := rc.inflight[want]
		if !fetching {
			break
		}
		// Another goroutine is already fetching this span; wait for it to
		// finish, then re-check the cache.
		rc.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		rc.mu.Lock()
	}
	ch := make(chan struct{})
	rc.inflight[want] = ch
	rc.mu.Unlock()

	buf := make([]byte, want.length())
	n, err := rc.fetch(buf, want.start)
	if err == nil && int64(n) != want.length() {
		err = fmt.Errorf("rangecache: short read from %s: got %d bytes, want %d", rc.objectKey, n, want.length())
	}

	rc.mu.Lock()
	delete(rc.inflight, want)
	close(ch)
	if err != nil {
		rc.mu.Unlock()
		return nil, err
	}
	rc.insert(want, buf)
	rc.mu.Unlock()

	klog.V(5).InfoS("range cache miss", "object", rc.objectKey, "start", want.start, "len", want.length())
	return buf, nil
}

// SetRange seeds the cache with bytes [start, start+length) without a
// fetch, merging into any adjacent or overlapping cached spans.
func (rc *RangeCache) SetRange(_ context.Context, start, length int64, data []byte) error {
	s := span{start, start + length}
	if !s.validFor(rc.size) {
		return fmt.Errorf("rangecache: invalid range [%d,%d) for %s (size %d)", s.start, s.end, rc.objectKey, rc.size)
	}
	if int64(len(data)) != s.length() {
		return fmt.Errorf("rangecache: got %d bytes for a %d-byte range", len(data), s.length())
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.insert(s, data)
	return nil
}

// lookup serves want from an exact or containing cached span, refreshing
// its LRU position. The returned slice is a copy. Callers hold rc.mu.
func (rc *RangeCache) lookup(want span) ([]byte, bool) {
	if data, ok := rc.spans[want]; ok {
		rc.touch(want)
		out := make([]byte, len(data))
		copy(out, data)
		return out, true
	}
	for s, data := range rc.spans {
		if s.contains(want) {
			rc.touch(s)
			off := want.start - s.start
			out := make([]byte, want.length())
			copy(out, data[off:off+want.length()])
			return out, true
		}
	}
	return nil, false
}

// insert records data for s, absorbing every cached span it overlaps or
// touches into one contiguous entry. New bytes win over old on overlap.
// Callers hold rc.mu.
func (rc *RangeCache) insert(s span, data []byte) {
	if s.length() == 0 {
		return
	}

	merged := s
	var absorbed []span
	for old := range rc.spans {
		if old.overlapsOrTouches(s) {
			absorbed = append(absorbed, old)
			if old.start < merged.start {
				merged.start = old.start
			}
			if old.end > merged.end {
				merged.end = old.end
			}
		}
	}
	if rc.maxBytes > 0 && merged.length() > rc.maxBytes {
		// The merged span alone would blow the budget; keep the cache as
		// it is rather than evicting everything for one oversized entry.
		klog.V(5).InfoS("range too large to cache", "object", rc.objectKey, "len", merged.length(), "budget", rc.maxBytes)
		return
	}

	buf := make([]byte, merged.length())
	for _, old := range absorbed {
		copy(buf[old.start-merged.start:], rc.spans[old])
		rc.drop(old)
	}
	copy(buf[s.start-merged.start:], data)

	rc.spans[merged] = buf
	rc.occupied += merged.length()
	rc.lruElem[merged] = rc.lru.PushFront(merged)
	rc.evict()
}

func (rc *RangeCache) touch(s span) {
	if el, ok := rc.lruElem[s]; ok {
		rc.lru.MoveToFront(el)
	}
}

func (rc *RangeCache) drop(s span) {
	if data, ok := rc.spans[s]; ok {
		delete(rc.spans, s)
		rc.occupied -= int64(len(data))
	}
	if el, ok := rc.lruElem[s]; ok {
		rc.lru.Remove(el)
		delete(rc.lruElem, s)
	}
}

// evict removes least recently used spans until the byte budget holds.
// Callers hold rc.mu.
func (rc *RangeCache) evict() {
	if rc.maxBytes <= 0 {
		return
	}
	for rc.occupied > rc.maxBytes && rc.lru.Len() > 0 {
		back := rc.lru.Back()
		s := back.Value.(span)
		klog.V(5).InfoS("evicting range", "object", rc.objectKey, "start", s.start, "len", s.length())
		rc.drop(s)
	}
}
