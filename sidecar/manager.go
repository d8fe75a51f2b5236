package sidecar

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/shard"
	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"
)

// Manager loads, caches, rebuilds, and mutates shard sidecars against a
// blobstore.Store.
type Manager struct {
	store       blobstore.Store
	desCfg      config.DESConfig
	bigFilesDir string // local dir for rebuild's BigFile reads, may be ""
	cache       *lru.Cache[string, *Metadata]

	// shardLocks serializes the tombstone read-modify-write per shard key
	// without blocking tombstone writes on unrelated shards.
	shardLocksMu sync.Mutex
	shardLocks   map[string]*sync.Mutex
}

// NewManager returns a Manager caching up to cacheSize sidecars in memory.
func NewManager(store blobstore.Store, desCfg config.DESConfig, bigFilesDir string, cacheSize int) (*Manager, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, err := lru.New[string, *Metadata](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("sidecar: building LRU cache: %w", err)
	}
	return &Manager{
		store:       store,
		desCfg:      desCfg,
		bigFilesDir: bigFilesDir,
		cache:       cache,
		shardLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serializing read-modify-write access to
// shardKey's sidecar, creating one on first use.
func (m *Manager) lockFor(shardKey string) *sync.Mutex {
	m.shardLocksMu.Lock()
	defer m.shardLocksMu.Unlock()
	mu, ok := m.shardLocks[shardKey]
	if !ok {
		mu = &sync.Mutex{}
		m.shardLocks[shardKey] = mu
	}
	return mu
}

func metaKey(shardKey string) string {
	if strings.HasSuffix(shardKey, ".des") {
		return strings.TrimSuffix(shardKey, ".des") + ".meta"
	}
	return shardKey + ".meta"
}

// GetMetadata loads shardKey's sidecar, consulting the in-memory cache
// first, then the store, rebuilding from the shard itself if the sidecar
// is missing or corrupt and rebuildOnMissing is true.
func (m *Manager) GetMetadata(ctx context.Context, shardKey string, rebuildOnMissing bool) (*Metadata, error) {
	if cached, ok := m.cache.Get(shardKey); ok {
		return cached, nil
	}

	body, err := m.store.Get(ctx, metaKey(shardKey))
	switch {
	case err == nil:
		meta, parseErr := FromJSON(body)
		if parseErr != nil {
			if !rebuildOnMissing {
				return nil, parseErr
			}
			klog.InfoS("sidecar invalid, rebuilding", "shard", shardKey, "error", parseErr)
			return m.rebuild(ctx, shardKey)
		}
		m.cache.Add(shardKey, meta)
		return meta, nil
	case errors.Is(err, blobstore.ErrObjectNotFound):
		if !rebuildOnMissing {
			return nil, fmt.Errorf("%w: sidecar missing for %s", errs.ErrNotFound, shardKey)
		}
		klog.InfoS("sidecar missing, rebuilding", "shard", shardKey)
		return m.rebuild(ctx, shardKey)
	default:
		return nil, fmt.Errorf("%w: loading sidecar for %s: %v", errs.ErrTransient, shardKey, err)
	}
}

// rebuild reconstructs a sidecar by reading the shard's own index, computing
// a SHA-256 checksum per entry, and persisting the result.
func (m *Manager) rebuild(ctx context.Context, shardKey string) (*Metadata, error) {
	body, err := m.store.Get(ctx, shardKey)
	if err != nil {
		return nil, fmt.Errorf("%w: reading shard %s for rebuild: %v", errs.ErrTransient, shardKey, err)
	}

	reader, err := shard.OpenBytes(body, m.bigFilesDir)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	meta := New(path.Base(shardKey), int64(len(body)), now)

	for _, uid := range reader.ListUIDs() {
		entry, _ := reader.Lookup(uid)

		var data []byte
		if entry.IsBigFile {
			// BigFiles live next to the shard in the store, not in the
			// shard body this rebuild already fetched.
			bigKey := shard.BuildBigFileKey(shardKey, m.desCfg.BigfilesPrefix, entry.BigFileHash)
			data, err = m.store.Get(ctx, bigKey)
			if err != nil {
				return nil, fmt.Errorf("%w: reading bigfile %s while rebuilding %s: %v", errs.ErrTransient, bigKey, shardKey, err)
			}
		} else {
			data, err = reader.ReadFile(uid)
			if err != nil {
				return nil, fmt.Errorf("%w: reading entry %q while rebuilding %s: %v", errs.ErrCorruptShard, uid, shardKey, err)
			}
		}
		sum := sha256.Sum256(data)

		key := uid
		if createdAt, ok := entry.Meta["created_at"]; ok {
			if s, ok := createdAt.(string); ok {
				if ts, err := parseTimestamp(s, "created_at"); err == nil {
					key = BuildKey(uid, ts)
				}
			}
		}

		meta.Index[key] = IndexEntry(entry, hex.EncodeToString(sum[:]))
	}
	meta.RecomputeStats()

	if err := m.SaveMetadata(ctx, shardKey, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// IndexEntry renders the sidecar index record for one shard entry and its
// computed hex SHA-256 checksum. Packers and the rebuild path share this
// so the two never drift on field names.
func IndexEntry(entry *shard.Entry, checksum string) map[string]any {
	return map[string]any{
		"uid":               entry.UID,
		"offset":            entry.Offset,
		"length":            entry.Length,
		"codec":             entry.Codec.String(),
		"compressed_size":   entry.CompressedSize,
		"uncompressed_size": entry.UncompressedSize,
		"is_bigfile":        entry.IsBigFile,
		"bigfile_hash":      entry.BigFileHash,
		"bigfile_size":      entry.BigFileSize,
		"meta":              entry.Meta,
		"checksum":          checksum,
		"checksum_algo":     "sha256",
	}
}

// RebuildMetadata unconditionally reconstructs shardKey's sidecar from the
// shard itself, overwriting whatever sidecar (valid or not) already exists.
// Backs the rebuild-sidecar CLI command. The retriever's read path never
// rebuilds a sidecar; only this call and the tombstone write path do.
func (m *Manager) RebuildMetadata(ctx context.Context, shardKey string) (*Metadata, error) {
	return m.rebuild(ctx, shardKey)
}

// SaveMetadata writes meta to the store and refreshes the cache.
func (m *Manager) SaveMetadata(ctx context.Context, shardKey string, meta *Metadata) error {
	payload, err := meta.ToJSON()
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, metaKey(shardKey), bytes.NewReader(payload), "application/json"); err != nil {
		return fmt.Errorf("%w: writing sidecar for %s: %v", errs.ErrTransient, shardKey, err)
	}
	m.cache.Add(shardKey, meta)
	return nil
}

// AddTombstone loads shardKey's sidecar, tombstones (uid, createdAt), and
// persists the result. ticketID may be empty.
func (m *Manager) AddTombstone(ctx context.Context, shardKey, uid string, createdAt time.Time, deletedBy, reason, ticketID string) error {
	lock := m.lockFor(shardKey)
	lock.Lock()
	defer lock.Unlock()

	meta, err := m.GetMetadata(ctx, shardKey, true)
	if err != nil {
		return err
	}
	if _, ok := meta.GetEntry(uid, createdAt); !ok {
		return fmt.Errorf("%w: uid %q not found in shard %s", errs.ErrNotFound, uid, shardKey)
	}
	if err := meta.AddTombstone(uid, createdAt, time.Now().UTC(), deletedBy, reason, ticketID); err != nil {
		return err
	}
	return m.SaveMetadata(ctx, shardKey, meta)
}

// ChecksumStatus is the tri-state result of VerifyEntryChecksum: "missing"
// (no checksum was ever recorded) stays distinguishable from "mismatch" (a
// checksum was recorded and disagrees), since only the latter is ever
// treated as a hard failure.
type ChecksumStatus int

const (
	ChecksumOK ChecksumStatus = iota
	ChecksumMissing
	ChecksumMismatch
)

func (s ChecksumStatus) String() string {
	switch s {
	case ChecksumOK:
		return "ok"
	case ChecksumMissing:
		return "missing"
	case ChecksumMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// VerifyEntryChecksum recomputes data's SHA-256 and compares it against the
// checksum recorded in shardKey's sidecar for (uid, createdAt). A missing
// sidecar is an error, never a rebuild trigger: verification is read-only.
func (m *Manager) VerifyEntryChecksum(ctx context.Context, shardKey, uid string, createdAt time.Time, data []byte) (ChecksumStatus, error) {
	meta, err := m.GetMetadata(ctx, shardKey, false)
	if err != nil {
		return ChecksumMissing, err
	}
	entry, ok := meta.GetEntry(uid, createdAt)
	if !ok {
		return ChecksumMissing, fmt.Errorf("%w: entry not found: %s", errs.ErrNotFound, uid)
	}

	stored, _ := entry["checksum"].(string)
	if stored == "" {
		klog.InfoS("no checksum recorded for entry (old format)", "uid", uid)
		return ChecksumMissing, nil
	}
	sum := sha256.Sum256(data)
	computed := hex.EncodeToString(sum[:])
	if computed != stored {
		return ChecksumMismatch, nil
	}
	return ChecksumOK, nil
}
