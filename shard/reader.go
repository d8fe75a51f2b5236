package shard

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datavisioneasystore/des/errs"
)

// Reader reads a shard container over an io.ReaderAt, so callers can back
// it with a local file, an in-memory byte slice, or (via blobstore) a
// ranged remote object without re-reading the whole shard.
type Reader struct {
	r           readerAt
	size        int64
	header      Header
	index       *Index
	bigFilesDir string
}

type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Open builds a Reader over r (size bytes total), parsing the header and
// index eagerly. bigFilesDir is the local directory BigFiles are read
// from; pass "" if the shard is known to contain no BigFiles.
func Open(r readerAt, size int64, bigFilesDir string) (*Reader, error) {
	sr := &Reader{r: r, size: size, bigFilesDir: bigFilesDir}

	if size < HeaderSize+FooterSize {
		return nil, fmt.Errorf("%w: file too small to be a valid shard", errs.ErrCorruptShard)
	}

	headerBytes := make([]byte, HeaderSize)
	if _, err := r.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("%w: reading shard header: %v", errs.ErrTransient, err)
	}
	header, err := ParseHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	sr.header = header

	footerBytes := make([]byte, FooterSize)
	if _, err := r.ReadAt(footerBytes, size-FooterSize); err != nil {
		return nil, fmt.Errorf("%w: reading shard footer: %v", errs.ErrTransient, err)
	}
	footer, err := ParseFooter(footerBytes, size)
	if err != nil {
		return nil, err
	}

	indexBytes := make([]byte, footer.IndexSize)
	if footer.IndexSize > 0 {
		if _, err := r.ReadAt(indexBytes, footer.IndexOffset); err != nil {
			return nil, fmt.Errorf("%w: reading shard index: %v", errs.ErrTransient, err)
		}
	}
	index, err := parseIndex(indexBytes, footer.IndexOffset, header.Version)
	if err != nil {
		return nil, err
	}
	sr.index = index

	return sr, nil
}

// OpenFile opens a local shard file and resolves its BigFiles directory
// relative to the file's parent, using bigfilesPrefix.
func OpenFile(path, bigfilesPrefix string) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening shard file %s: %v", errs.ErrTransient, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: statting shard file %s: %v", errs.ErrTransient, path, err)
	}
	dir := ResolveBigFilesDir(filepath.Dir(path), bigfilesPrefix)
	sr, err := Open(f, info.Size(), dir)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return sr, f.Close, nil
}

// OpenBytes builds a Reader over an in-memory shard image, typically one
// retrieved whole via a small GET.
func OpenBytes(data []byte, bigFilesDir string) (*Reader, error) {
	return Open(bytes.NewReader(data), int64(len(data)), bigFilesDir)
}

// Version reports the shard's on-disk format version.
func (sr *Reader) Version() byte { return sr.header.Version }

// ListUIDs returns every UID indexed by this shard, in insertion order.
func (sr *Reader) ListUIDs() []string { return sr.index.Keys() }

// HasUID reports whether uid is indexed by this shard.
func (sr *Reader) HasUID(uid string) bool { return sr.index.Has(uid) }

// Lookup returns uid's index entry without reading its payload.
func (sr *Reader) Lookup(uid string) (*Entry, bool) { return sr.index.Get(uid) }

// ReadFile returns uid's decompressed payload, loading it from the shard's
// data section (inline entries) or from the local BigFiles directory
// (BigFile entries).
func (sr *Reader) ReadFile(uid string) ([]byte, error) {
	entry, ok := sr.index.Get(uid)
	if !ok {
		return nil, fmt.Errorf("%w: uid %q not found in shard", errs.ErrNotFound, uid)
	}
	if entry.IsBigFile {
		return sr.readBigFile(entry)
	}

	buf := make([]byte, entry.Length)
	if entry.Length > 0 {
		if _, err := sr.r.ReadAt(buf, entry.Offset); err != nil {
			return nil, fmt.Errorf("%w: reading payload for uid %q: %v", errs.ErrTransient, uid, err)
		}
	}
	return decompress(entry.Codec, buf, entry.UncompressedSize)
}

func (sr *Reader) readBigFile(entry *Entry) ([]byte, error) {
	if sr.bigFilesDir == "" {
		return nil, fmt.Errorf("%w: bigfile root unknown for this shard reader", errs.ErrInvalidState)
	}
	path := filepath.Join(sr.bigFilesDir, entry.BigFileHash)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading bigfile %s: %v", errs.ErrTransient, entry.BigFileHash, err)
	}
	if entry.BigFileSize != 0 && uint64(len(data)) != entry.BigFileSize {
		return nil, fmt.Errorf("%w: bigfile size mismatch for uid %q", errs.ErrCorruptShard, entry.UID)
	}
	return data, nil
}
