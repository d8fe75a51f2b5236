// Package retriever implements Component F: the read path. A Retriever
// checks extended retention first, then locates a UID's shard candidates
// through router.Locate, consults the shard's sidecar (for tombstone
// checks and a fast index lookup, backed by an LRU cache), and falls back
// to a range-GET'd shard index when the sidecar is unavailable — never
// fetching a whole shard body to answer one UID's read.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/router"
	"github.com/datavisioneasystore/des/shard"
	"github.com/datavisioneasystore/des/sidecar"
	"k8s.io/klog/v2"
)

// Options configures optional Retriever behavior beyond the required
// store/sidecar/nBits wiring.
type Options struct {
	// ExtendedRetention is consulted before any shard lookup when set.
	// Nil disables the extended-retention check.
	ExtendedRetention ExtendedRetention
	ExtPrefix         string

	// IndexCache backs the fallback (sidecar-missing) read path's shard
	// index cache. A Retriever builds its own default-sized cache if nil.
	IndexCache *IndexCache

	// EnforceChecksum, when true, turns a sidecar-recorded checksum
	// mismatch into an error (errs.ErrChecksumMismatch) instead of a
	// logged warning with the bytes still returned.
	EnforceChecksum bool

	// BigfilesPrefix is the key segment BigFile objects are stored under,
	// relative to their owning shard's directory. Must match the prefix
	// the packer wrote with. Defaults to config.DefaultBigfilesPrefix.
	BigfilesPrefix string
}

// DefaultExtPrefix is the extended-retention key prefix used when
// Options.ExtPrefix is left empty.
const DefaultExtPrefix = "_ext_retention"

// Retriever resolves (uid, createdAt) to file bytes against a single
// blob-store, trying each shard matching the routing key in sorted order
// until the first hit.
type Retriever struct {
	store    blobstore.Store
	sidecars *sidecar.Manager
	nBits    int
	opts     Options
}

// New returns a Retriever reading shards and sidecars from store.
func New(store blobstore.Store, sidecars *sidecar.Manager, nBits int, opts Options) (*Retriever, error) {
	if opts.IndexCache == nil {
		cache, err := NewIndexCache(1000)
		if err != nil {
			return nil, err
		}
		opts.IndexCache = cache
	}
	if opts.ExtPrefix == "" {
		opts.ExtPrefix = DefaultExtPrefix
	}
	if opts.BigfilesPrefix == "" {
		opts.BigfilesPrefix = config.DefaultBigfilesPrefix
	}
	return &Retriever{store: store, sidecars: sidecars, nBits: nBits, opts: opts}, nil
}

// candidateShardKeys lists every shard object key that could contain uid,
// in sorted order. First-hit semantics depend on this ordering being
// deterministic across re-runs.
func (r *Retriever) candidateShardKeys(ctx context.Context, uid string, createdAt time.Time) ([]string, error) {
	loc, err := router.Locate(uid, createdAt, r.nBits)
	if err != nil {
		return nil, err
	}
	prefix := loc.DateDir + "/" + loc.ShardHex
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: listing candidate shards for prefix %s: %v", errs.ErrTransient, prefix, err)
	}
	// The same prefix also matches the shards' .meta sidecars; only .des
	// containers are candidates. Filter into a fresh slice — a Store may
	// return its own backing slice, which must not be mutated.
	shards := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasSuffix(k, ".des") {
			shards = append(shards, k)
		}
	}
	sort.Strings(shards)
	return shards, nil
}

// Has reports whether uid exists (and is not tombstoned) in any candidate
// shard for createdAt.
func (r *Retriever) Has(ctx context.Context, uid string, createdAt time.Time) (bool, error) {
	normalized, err := router.NormalizeUID(uid)
	if err != nil {
		return false, err
	}
	createdAt = createdAt.UTC()

	if r.opts.ExtendedRetention != nil {
		extKey := BuildExtRetentionKey(r.opts.ExtPrefix, normalized, createdAt)
		exists, err := r.opts.ExtendedRetention.Head(ctx, extKey)
		if err == nil && exists {
			return true, nil
		}
	}

	keys, err := r.candidateShardKeys(ctx, normalized, createdAt)
	if err != nil {
		return false, err
	}
	for _, key := range keys {
		found, tombstoned, _, err := r.lookupInShard(ctx, key, normalized, createdAt)
		if err != nil {
			return false, err
		}
		if found {
			return !tombstoned, nil
		}
	}
	return false, nil
}

// Get returns uid's bytes, checking extended retention first, then
// searching every candidate shard in order and stopping at the first hit.
// A tombstoned hit is reported as errs.ErrTombstoned rather than being
// skipped in favor of a later shard: a deletion marker shadows any
// duplicate copy in a later candidate.
func (r *Retriever) Get(ctx context.Context, uid string, createdAt time.Time) ([]byte, error) {
	normalized, err := router.NormalizeUID(uid)
	if err != nil {
		return nil, err
	}
	createdAt = createdAt.UTC()

	if r.opts.ExtendedRetention != nil {
		extKey := BuildExtRetentionKey(r.opts.ExtPrefix, normalized, createdAt)
		if exists, err := r.opts.ExtendedRetention.Head(ctx, extKey); err == nil && exists {
			data, err := r.opts.ExtendedRetention.Get(ctx, extKey)
			if err != nil {
				return nil, fmt.Errorf("%w: reading extended retention object %s: %v", errs.ErrTransient, extKey, err)
			}
			return data, nil
		}
	}

	keys, err := r.candidateShardKeys(ctx, normalized, createdAt)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: uid %q: no shard found for date %s", errs.ErrNotFound, normalized, createdAt.Format("2006-01-02"))
	}

	for _, key := range keys {
		found, tombstoned, payload, err := r.lookupInShard(ctx, key, normalized, createdAt)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if tombstoned {
			return nil, fmt.Errorf("%w: uid %q", errs.ErrTombstoned, normalized)
		}
		return payload, nil
	}
	return nil, fmt.Errorf("%w: uid %q not found in %d candidate shard(s)", errs.ErrNotFound, normalized, len(keys))
}

// verifyAndReturn checks payload against the sidecar's recorded checksum.
// Only called on the sidecar-hit path, where the sidecar is already
// cached, so it costs no extra blob-store call. A mismatch is always
// logged; it becomes an error only under opts.EnforceChecksum, otherwise
// the bytes are still returned.
func (r *Retriever) verifyAndReturn(ctx context.Context, key, uid string, createdAt time.Time, payload []byte) ([]byte, error) {
	status, err := r.sidecars.VerifyEntryChecksum(ctx, key, uid, createdAt, payload)
	if err != nil {
		// No checksum to compare against. The payload already passed the
		// shard's own length checks; verification is best-effort on top.
		klog.V(3).InfoS("checksum unavailable", "shard", key, "uid", uid, "error", err)
		return payload, nil
	}
	switch status {
	case sidecar.ChecksumMismatch:
		klog.ErrorS(fmt.Errorf("checksum mismatch"), "decompressed payload disagrees with sidecar checksum", "shard", key, "uid", uid)
		if r.opts.EnforceChecksum {
			return nil, fmt.Errorf("%w: uid %q in shard %s", errs.ErrChecksumMismatch, uid, key)
		}
	case sidecar.ChecksumMissing:
		klog.V(4).InfoS("no checksum recorded for entry", "shard", key, "uid", uid)
	}
	return payload, nil
}

// Delete tombstones uid in the first candidate shard that contains it.
// ticketID may be empty.
func (r *Retriever) Delete(ctx context.Context, uid string, createdAt time.Time, deletedBy, reason, ticketID string) error {
	normalized, err := router.NormalizeUID(uid)
	if err != nil {
		return err
	}
	createdAt = createdAt.UTC()
	keys, err := r.candidateShardKeys(ctx, normalized, createdAt)
	if err != nil {
		return err
	}
	for _, key := range keys {
		found, tombstoned, _, err := r.lookupInShard(ctx, key, normalized, createdAt)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if tombstoned {
			return fmt.Errorf("%w: uid %q", errs.ErrAlreadyDeleted, normalized)
		}
		return r.sidecars.AddTombstone(ctx, key, normalized, createdAt, deletedBy, reason, ticketID)
	}
	return fmt.Errorf("%w: uid %q not found in %d candidate shard(s)", errs.ErrNotFound, normalized, len(keys))
}

// lookupInShard resolves (uid, createdAt) against key's sidecar, and when
// that succeeds, reads, verifies, and returns the entry's payload in the
// same call: one blob-store round trip for the payload. If the sidecar is
// missing or corrupt, it falls back to the header/footer/index range-GET
// path over the shard's own framing — it never rebuilds the sidecar;
// rebuild stays an explicit recovery operation (RebuildMetadata, the
// rebuild-sidecar command).
func (r *Retriever) lookupInShard(ctx context.Context, key, uid string, createdAt time.Time) (found, tombstoned bool, payload []byte, err error) {
	meta, metaErr := r.sidecars.GetMetadata(ctx, key, false)
	if metaErr == nil {
		if meta.IsTombstoned(uid, createdAt) {
			return true, true, nil, nil
		}
		if entry, ok := meta.GetEntry(uid, createdAt); ok {
			data, err := r.readEntryFromSidecarEntry(ctx, key, entry)
			if err != nil {
				return false, false, nil, err
			}
			data, err = r.verifyAndReturn(ctx, key, uid, createdAt, data)
			if err != nil {
				return false, false, nil, err
			}
			return true, false, data, nil
		}
		// A sidecar that loaded but has no record of this uid may simply
		// be stale; the shard's own index is authoritative.
	} else {
		klog.V(3).InfoS("sidecar unavailable, falling back to in-shard index", "shard", key, "error", metaErr)
	}
	return r.lookupViaRangeGetIndex(ctx, key, uid, createdAt)
}

// readEntryFromSidecarEntry range-GETs an inline entry's bytes (or fetches
// a BigFile object in full) using the offset/length the sidecar already
// recorded, avoiding any shard-index parse on the sidecar-hit path.
func (r *Retriever) readEntryFromSidecarEntry(ctx context.Context, shardKey string, entry map[string]any) ([]byte, error) {
	if isBigFile, _ := entry["is_bigfile"].(bool); isBigFile {
		hash, _ := entry["bigfile_hash"].(string)
		if hash == "" {
			return nil, fmt.Errorf("%w: sidecar entry missing bigfile_hash in %s", errs.ErrCorruptMetadata, shardKey)
		}
		bigfileKey := shard.BuildBigFileKey(shardKey, r.opts.BigfilesPrefix, hash)
		data, err := r.store.Get(ctx, bigfileKey)
		if err != nil {
			return nil, fmt.Errorf("%w: reading bigfile %s: %v", errs.ErrTransient, bigfileKey, err)
		}
		return data, nil
	}

	offset, okOffset := asInt64(entry["offset"])
	compressedSize, okLen := asInt64(entry["compressed_size"])
	uncompressedSize, _ := asInt64(entry["uncompressed_size"])
	codecStr, _ := entry["codec"].(string)
	if !okOffset || !okLen {
		return nil, fmt.Errorf("%w: sidecar entry missing offset/compressed_size in %s", errs.ErrCorruptMetadata, shardKey)
	}

	var raw []byte
	var err error
	if compressedSize > 0 {
		raw, err = r.store.GetRange(ctx, shardKey, offset, compressedSize)
		if err != nil {
			return nil, fmt.Errorf("%w: range-GET payload from %s: %v", errs.ErrTransient, shardKey, err)
		}
	}

	codec, err := config.ParseCompressionCodec(codecStr)
	if err != nil {
		return nil, err
	}
	return shard.Decompress(codec, raw, uint64(uncompressedSize))
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
