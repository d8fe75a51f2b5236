package shard

import "github.com/datavisioneasystore/des/config"

// Entry is a single file record inside a shard: either an inline payload
// described by (offset, length, codec) or a BigFile pointer described by
// (hash, size). Exactly one of the two descriptions is populated.
type Entry struct {
	UID string

	// Inline fields. Offset, Length, Codec and CompressedSize are zero when
	// IsBigFile is true; UncompressedSize then holds the BigFile's size.
	Offset           int64
	Length           uint64
	Codec            config.CompressionCodec
	CompressedSize   uint64
	UncompressedSize uint64

	// BigFile fields. Empty/zero when IsBigFile is false.
	IsBigFile   bool
	BigFileHash string
	BigFileSize uint64

	// Meta is arbitrary caller-supplied JSON metadata carried alongside the
	// entry (v2 shards only; always empty on legacy shards).
	Meta map[string]any
}

// Index is the in-memory map of UID to Entry loaded from a shard's index
// section. Iteration order matches insertion order (the order entries were
// written).
type Index struct {
	order   []string
	entries map[string]*Entry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]*Entry)}
}

// Add inserts or overwrites uid's entry, preserving the first-seen order.
func (idx *Index) Add(e *Entry) {
	if _, exists := idx.entries[e.UID]; !exists {
		idx.order = append(idx.order, e.UID)
	}
	idx.entries[e.UID] = e
}

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Has reports whether uid is present.
func (idx *Index) Has(uid string) bool {
	_, ok := idx.entries[uid]
	return ok
}

// Get returns uid's entry, if present.
func (idx *Index) Get(uid string) (*Entry, bool) {
	e, ok := idx.entries[uid]
	return e, ok
}

// Keys returns all UIDs in insertion order.
func (idx *Index) Keys() []string {
	out := make([]string, len(idx.order))
	copy(out, idx.order)
	return out
}
