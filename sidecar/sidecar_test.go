package sidecar

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
	shardpkg "github.com/datavisioneasystore/des/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKeyAndTimestampFormat(t *testing.T) {
	ts := time.Date(2026, 3, 5, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-05T13:45:00Z", FormatTimestamp(ts))
	assert.Equal(t, "abc:2026-03-05T13:45:00Z", BuildKey("abc", ts))
}

func TestMetadata_JSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	meta := New("39.des", 1024, ts)
	meta.Index[BuildKey("a", ts)] = map[string]any{"uid": "a"}

	b, err := meta.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(b)
	require.NoError(t, err)
	assert.Equal(t, meta.ShardFile, parsed.ShardFile)
	assert.Equal(t, meta.ShardSize, parsed.ShardSize)
	assert.True(t, meta.CreatedAt.Equal(parsed.CreatedAt))
	assert.Contains(t, parsed.Index, BuildKey("a", ts))
}

func TestMetadata_TombstoneAndGetEntry(t *testing.T) {
	ts := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	meta := New("39.des", 100, ts)
	meta.Index["u1"] = map[string]any{"uid": "u1"}

	assert.False(t, meta.IsTombstoned("u1", ts))
	require.NoError(t, meta.AddTombstone("u1", ts, ts.Add(time.Hour), "op", "gdpr", "TICKET-42"))
	assert.True(t, meta.IsTombstoned("u1", ts))
	assert.Equal(t, "TICKET-42", meta.Tombstones[BuildKey("u1", ts)]["ticket_id"])

	err := meta.AddTombstone("u1", ts, ts.Add(2*time.Hour), "op", "gdpr", "")
	assert.ErrorIs(t, err, errs.ErrAlreadyDeleted)

	entry, ok := meta.GetEntry("u1", ts)
	require.True(t, ok)
	assert.Equal(t, "u1", entry["uid"])
}

func TestManager_RebuildOnMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.NewLocal(dir)
	require.NoError(t, err)

	cfg := config.DefaultDESConfig()
	ctx := context.Background()

	var buf bytes.Buffer
	w := shardpkg.NewWriter(&buf, config.CompressionConfig{Codec: config.CodecNone}, cfg, "")
	_, err = w.AddFile("u1", []byte("payload"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	shardBytes := buf.Bytes()
	require.NoError(t, store.Put(ctx, "20260305/39.des", bytes.NewReader(shardBytes), ""))

	mgr, err := NewManager(store, cfg, "", 10)
	require.NoError(t, err)

	meta, err := mgr.GetMetadata(ctx, "20260305/39.des", true)
	require.NoError(t, err)
	assert.Equal(t, int64(len(shardBytes)), meta.ShardSize)
	entry, ok := meta.GetEntry("u1", time.Time{})
	require.True(t, ok)
	assert.NotEmpty(t, entry["checksum"])

	info, err := store.Head(ctx, "20260305/39.meta")
	require.NoError(t, err)
	assert.Greater(t, info.Size, int64(0))
}
