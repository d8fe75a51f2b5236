package shard

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader_RoundTripInline(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, config.BalancedZSTDConfig(), config.DefaultDESConfig(), t.TempDir())

	_, err := w.AddFile("alpha", []byte("hello world"), map[string]any{"k": "v"})
	require.NoError(t, err)
	_, err = w.AddFile("beta", []byte("second payload"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	r, err := OpenBytes(buf.Bytes(), "")
	require.NoError(t, err)
	assert.Equal(t, Version, r.Version())
	assert.ElementsMatch(t, []string{"alpha", "beta"}, r.ListUIDs())

	data, err := r.ReadFile("alpha")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	entry, ok := r.Lookup("alpha")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"k": "v"}, entry.Meta)

	data, err = r.ReadFile("beta")
	require.NoError(t, err)
	assert.Equal(t, "second payload", string(data))
}

func TestWriter_DuplicateUID(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, config.BalancedZSTDConfig(), config.DefaultDESConfig(), t.TempDir())
	_, err := w.AddFile("dup", []byte("x"), nil)
	require.NoError(t, err)
	_, err = w.AddFile("dup", []byte("y"), nil)
	assert.ErrorIs(t, err, errs.ErrDuplicateUID)
}

func TestWriterReader_BigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DESConfig{BigFileThresholdBytes: 8, BigfilesPrefix: "_bigfiles", NBits: 8}

	var buf bytes.Buffer
	w := NewWriter(&buf, config.CompressionConfig{Codec: config.CodecNone}, cfg, filepath.Join(dir, "_bigfiles"))
	big := bytes.Repeat([]byte("z"), 1024)
	entry, err := w.AddFile("huge", big, nil)
	require.NoError(t, err)
	assert.True(t, entry.IsBigFile)
	require.NoError(t, w.Finalize())

	r, err := OpenBytes(buf.Bytes(), filepath.Join(dir, "_bigfiles"))
	require.NoError(t, err)
	data, err := r.ReadFile("huge")
	require.NoError(t, err)
	assert.Equal(t, big, data)
}

func TestReader_NotFound(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, config.CompressionConfig{Codec: config.CodecNone}, config.DefaultDESConfig(), "")
	require.NoError(t, w.Finalize())

	r, err := OpenBytes(buf.Bytes(), "")
	require.NoError(t, err)
	_, err = r.ReadFile("missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReader_RejectsBadMagic(t *testing.T) {
	_, err := OpenBytes([]byte("not a shard at all, too short"), "")
	assert.ErrorIs(t, err, errs.ErrCorruptShard)
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	shardPath := filepath.Join(dir, "39.des")
	f, err := os.Create(shardPath)
	require.NoError(t, err)
	w := NewWriter(f, config.CompressionConfig{Codec: config.CodecNone}, config.DefaultDESConfig(), filepath.Join(dir, "_bigfiles"))
	_, err = w.AddFile("x", []byte("payload"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	require.NoError(t, f.Close())

	r, closeFn, err := OpenFile(shardPath, "_bigfiles")
	require.NoError(t, err)
	defer closeFn()
	data, err := r.ReadFile("x")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestCompressionConfig_SkipExtensions(t *testing.T) {
	cfg := config.BalancedZSTDConfig()
	assert.False(t, cfg.ShouldCompress("photo.jpg"))
	assert.True(t, cfg.ShouldCompress("report.txt"))
}

func TestBuildBigFileKey(t *testing.T) {
	key := BuildBigFileKey("20260305/39.des", "_bigfiles", "abc123")
	assert.Equal(t, "20260305/_bigfiles/abc123", key)
}
