package retriever

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/router"
	"github.com/datavisioneasystore/des/shard"
	"github.com/datavisioneasystore/des/sidecar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNBits = 8

var fixedCreatedAt = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

// writeTestShard packs uid/data pairs into a shard at the routing key
// (uid, fixedCreatedAt) would resolve to, and returns that object key.
func writeTestShard(t *testing.T, store blobstore.Store, files map[string][]byte) string {
	t.Helper()
	loc, err := router.Locate(uidFor(files), fixedCreatedAt, testNBits)
	require.NoError(t, err)
	shardKey := loc.DateDir + "/" + loc.ShardHex + ".des"

	var buf bytes.Buffer
	w := shard.NewWriter(&buf, config.BalancedZSTDConfig(), config.DefaultDESConfig(), t.TempDir())
	for uid, data := range files {
		meta := map[string]any{"created_at": fixedCreatedAt.Format(time.RFC3339Nano)}
		_, err := w.AddFile(uid, data, meta)
		require.NoError(t, err)
	}
	require.NoError(t, w.Finalize())
	require.NoError(t, store.Put(context.Background(), shardKey, &buf, "application/octet-stream"))
	return shardKey
}

func uidFor(files map[string][]byte) string {
	for uid := range files {
		return uid
	}
	return ""
}

func newTestRetriever(t *testing.T, store blobstore.Store, opts Options) *Retriever {
	t.Helper()
	sidecars, err := sidecar.NewManager(store, config.DefaultDESConfig(), "", 10)
	require.NoError(t, err)
	r, err := New(store, sidecars, testNBits, opts)
	require.NoError(t, err)
	return r
}

func TestRetriever_RoundTripViaSidecar(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	shardKey := writeTestShard(t, store, map[string][]byte{"alpha": []byte("hello world")})

	// Publish the sidecar the way a packer would, so the read goes
	// through the sidecar-hit path rather than the in-shard fallback.
	sidecars, err := sidecar.NewManager(store, config.DefaultDESConfig(), "", 10)
	require.NoError(t, err)
	_, err = sidecars.RebuildMetadata(context.Background(), shardKey)
	require.NoError(t, err)

	r := newTestRetriever(t, store, Options{})
	data, err := r.Get(context.Background(), "alpha", fixedCreatedAt)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

// readOnlyStore rejects writes. No sidecar is ever published for the
// shard, so the read path has to fall back to the in-shard index.
type readOnlyStore struct {
	blobstore.Store
}

func (s readOnlyStore) Put(context.Context, string, io.Reader, string) error {
	return errors.New("store is read-only")
}

func TestRetriever_RoundTripWithoutSidecar(t *testing.T) {
	local, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	writeTestShard(t, local, map[string][]byte{"beta": []byte("fallback payload")})

	store := readOnlyStore{Store: local}
	r := newTestRetriever(t, store, Options{})
	data, err := r.Get(context.Background(), "beta", fixedCreatedAt)
	require.NoError(t, err)
	assert.Equal(t, "fallback payload", string(data))

	// Second read reuses the cached in-shard index.
	data2, err := r.Get(context.Background(), "beta", fixedCreatedAt)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestRetriever_TombstonePrecedence(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	writeTestShard(t, store, map[string][]byte{"gamma": []byte("to be deleted")})

	r := newTestRetriever(t, store, Options{})
	require.NoError(t, r.Delete(context.Background(), "gamma", fixedCreatedAt, "alice", "gdpr request", ""))

	_, err = r.Get(context.Background(), "gamma", fixedCreatedAt)
	assert.ErrorIs(t, err, errs.ErrTombstoned)

	err = r.Delete(context.Background(), "gamma", fixedCreatedAt, "alice", "gdpr request", "")
	assert.ErrorIs(t, err, errs.ErrAlreadyDeleted)
}

func TestRetriever_NotFound(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	writeTestShard(t, store, map[string][]byte{"delta": []byte("present")})

	r := newTestRetriever(t, store, Options{})
	_, err = r.Get(context.Background(), "does-not-exist", fixedCreatedAt)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRetriever_ExtendedRetentionPrecedence(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	writeTestShard(t, store, map[string][]byte{"epsilon": []byte("shard copy")})

	ext := NewFSExtendedRetention(t.TempDir())
	r := newTestRetriever(t, store, Options{ExtendedRetention: ext, ExtPrefix: DefaultExtPrefix})

	key := BuildExtRetentionKey(DefaultExtPrefix, "epsilon", fixedCreatedAt)
	require.NoError(t, ext.Put(context.Background(), key, []byte("retained copy"), fixedCreatedAt.AddDate(1, 0, 0)))

	data, err := r.Get(context.Background(), "epsilon", fixedCreatedAt)
	require.NoError(t, err)
	assert.Equal(t, "retained copy", string(data), "extended retention must shadow the shard copy")

	has, err := r.Has(context.Background(), "epsilon", fixedCreatedAt)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRetriever_ChecksumMismatchWarnsByDefault(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	shardKey := writeTestShard(t, store, map[string][]byte{"zeta": []byte("original bytes")})

	// Force a sidecar with a stale checksum by rebuilding it, then
	// corrupting the recorded checksum directly.
	sidecars, err := sidecar.NewManager(store, config.DefaultDESConfig(), "", 10)
	require.NoError(t, err)
	meta, err := sidecars.GetMetadata(context.Background(), shardKey, true)
	require.NoError(t, err)
	key := sidecar.BuildKey("zeta", fixedCreatedAt)
	entry, ok := meta.Index[key]
	require.True(t, ok)
	entry["checksum"] = "0000000000000000000000000000000000000000000000000000000000000000"
	require.NoError(t, sidecars.SaveMetadata(context.Background(), shardKey, meta))

	r := newTestRetriever(t, store, Options{EnforceChecksum: false})
	data, err := r.Get(context.Background(), "zeta", fixedCreatedAt)
	require.NoError(t, err)
	assert.Equal(t, "original bytes", string(data))

	rStrict := newTestRetriever(t, store, Options{EnforceChecksum: true})
	_, err = rStrict.Get(context.Background(), "zeta", fixedCreatedAt)
	assert.ErrorIs(t, err, errs.ErrChecksumMismatch)
}

func TestRetriever_Has(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	writeTestShard(t, store, map[string][]byte{"eta": []byte("x")})

	r := newTestRetriever(t, store, Options{})
	ok, err := r.Has(context.Background(), "eta", fixedCreatedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Has(context.Background(), "not-eta", fixedCreatedAt)
	require.NoError(t, err)
	assert.False(t, ok)
}
