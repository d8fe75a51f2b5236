package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
)

// Writer appends files to a v2 shard container. Callers drive it with
// AddFile calls and a single terminal Finalize; it is not safe for
// concurrent use.
type Writer struct {
	w           io.Writer
	compression config.CompressionConfig
	cfg         config.DESConfig
	bigFilesDir string

	started bool
	closed  bool
	offset  int64

	order   []string
	entries map[string]*Entry
}

// NewWriter returns a Writer appending to w. bigFilesDir is the local
// directory BigFiles are written to; it may be empty if the caller knows no
// file written through this Writer will exceed cfg.BigFileThresholdBytes.
func NewWriter(w io.Writer, compression config.CompressionConfig, cfg config.DESConfig, bigFilesDir string) *Writer {
	return &Writer{
		w:           w,
		compression: compression,
		cfg:         cfg,
		bigFilesDir: bigFilesDir,
		entries:     make(map[string]*Entry),
	}
}

func (sw *Writer) writeHeader() error {
	if sw.started {
		return nil
	}
	n, err := sw.w.Write(EncodeHeader())
	if err != nil {
		return fmt.Errorf("%w: writing shard header: %v", errs.ErrTransient, err)
	}
	sw.offset += int64(n)
	sw.started = true
	return nil
}

// AddFile appends uid's payload to the shard, choosing the inline or
// BigFile path based on len(data) against cfg.BigFileThresholdBytes, and
// returns the entry recorded for it.
func (sw *Writer) AddFile(uid string, data []byte, meta map[string]any) (*Entry, error) {
	if sw.closed {
		return nil, fmt.Errorf("%w: shard writer is closed", errs.ErrInvalidState)
	}
	if err := sw.writeHeader(); err != nil {
		return nil, err
	}
	if _, exists := sw.entries[uid]; exists {
		return nil, fmt.Errorf("%w: uid %q already exists in shard", errs.ErrDuplicateUID, uid)
	}

	var entry *Entry
	var err error
	if int64(len(data)) > sw.cfg.BigFileThresholdBytes {
		entry, err = sw.writeBigFile(uid, data, meta)
	} else {
		entry, err = sw.writeInline(uid, data, meta)
	}
	if err != nil {
		return nil, err
	}

	sw.order = append(sw.order, uid)
	sw.entries[uid] = entry
	return entry, nil
}

func (sw *Writer) writeInline(uid string, data []byte, meta map[string]any) (*Entry, error) {
	codec := config.CodecNone
	compressed := data
	if sw.compression.ShouldCompress(uid) {
		var err error
		compressed, err = compress(sw.compression, data)
		if err != nil {
			return nil, err
		}
		codec = sw.compression.Codec
	}

	offset := sw.offset
	n, err := sw.w.Write(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: writing shard payload for uid %q: %v", errs.ErrTransient, uid, err)
	}
	sw.offset += int64(n)

	return &Entry{
		UID:              uid,
		Offset:           offset,
		Length:           uint64(len(compressed)),
		Codec:            codec,
		CompressedSize:   uint64(len(compressed)),
		UncompressedSize: uint64(len(data)),
		Meta:             meta,
	}, nil
}

func (sw *Writer) writeBigFile(uid string, data []byte, meta map[string]any) (*Entry, error) {
	if sw.bigFilesDir == "" {
		return nil, fmt.Errorf("%w: bigfiles directory must be provided for uid %q", errs.ErrInvalidArgument, uid)
	}
	if err := os.MkdirAll(sw.bigFilesDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating bigfiles directory: %v", errs.ErrTransient, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	target := filepath.Join(sw.bigFilesDir, hash)
	// Content-addressed: an existing file with this hash already holds the
	// same bytes, so a second write is skipped rather than repeated.
	if _, err := os.Stat(target); err != nil {
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return nil, fmt.Errorf("%w: writing bigfile %s: %v", errs.ErrTransient, hash, err)
		}
	}

	return &Entry{
		UID:              uid,
		UncompressedSize: uint64(len(data)),
		IsBigFile:        true,
		BigFileHash:      hash,
		BigFileSize:      uint64(len(data)),
		Meta:             meta,
	}, nil
}

// Finalize writes the index and footer. After Finalize, AddFile must not be
// called again.
func (sw *Writer) Finalize() error {
	if sw.closed {
		return nil
	}
	if err := sw.writeHeader(); err != nil {
		return err
	}

	indexBytes, err := serializeIndex(sw.order, sw.entries)
	if err != nil {
		return err
	}
	if _, err := sw.w.Write(indexBytes); err != nil {
		return fmt.Errorf("%w: writing shard index: %v", errs.ErrTransient, err)
	}
	if _, err := sw.w.Write(EncodeFooter(uint64(len(indexBytes)))); err != nil {
		return fmt.Errorf("%w: writing shard footer: %v", errs.ErrTransient, err)
	}

	sw.closed = true
	return nil
}

// Entries returns the entries recorded so far, in insertion order.
func (sw *Writer) Entries() []*Entry {
	out := make([]*Entry, len(sw.order))
	for i, uid := range sw.order {
		out[i] = sw.entries[uid]
	}
	return out
}
