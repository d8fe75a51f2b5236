// Package shard implements the append-only binary shard container: many
// small files packed into one self-describing object with an embedded
// index.
//
// Format (little-endian, append-only):
//
//	[ HEADER 8B ][ DATA ... ][ INDEX ][ FOOTER 12B ]
//
// Header: 4 bytes magic "DES2", 1 byte version, 3 reserved zero bytes.
// Footer: 4 bytes magic "DESI", 8 bytes index_size (uint64).
package shard

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/datavisioneasystore/des/errs"
)

const (
	HeaderMagic = "DES2"
	FooterMagic = "DESI"

	// LegacyVersion shards store inline entries only, with no BigFile
	// support and a fixed-layout index entry.
	LegacyVersion byte = 0x01
	// Version is the current, BigFiles-aware shard format.
	Version byte = 0x02

	HeaderSize = 8
	FooterSize = 12

	bigFileFlag byte = 0x01
)

var headerReserved = [3]byte{0, 0, 0}

// Header is the fixed 8-byte shard preamble.
type Header struct {
	Version byte
}

// ParseHeader validates and decodes the shard's leading 8 bytes.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("%w: invalid header size %d", errs.ErrCorruptShard, len(b))
	}
	if !bytes.Equal(b[:4], []byte(HeaderMagic)) {
		return Header{}, fmt.Errorf("%w: invalid shard header magic", errs.ErrCorruptShard)
	}
	version := b[4]
	if version != LegacyVersion && version != Version {
		return Header{}, fmt.Errorf("%w: unsupported shard version %d", errs.ErrCorruptShard, version)
	}
	if !bytes.Equal(b[5:8], headerReserved[:]) {
		return Header{}, fmt.Errorf("%w: invalid shard header reserved bytes", errs.ErrCorruptShard)
	}
	return Header{Version: version}, nil
}

// EncodeHeader renders the current-version 8-byte shard header.
func EncodeHeader() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[:4], HeaderMagic)
	buf[4] = Version
	copy(buf[5:8], headerReserved[:])
	return buf
}

// Footer records where the index section sits relative to the end of file.
type Footer struct {
	IndexSize   uint64
	IndexOffset int64
}

// ParseFooter validates and decodes the trailing 12 bytes, given the total
// file size.
func ParseFooter(b []byte, totalSize int64) (Footer, error) {
	if len(b) != FooterSize {
		return Footer{}, fmt.Errorf("%w: invalid footer size %d", errs.ErrCorruptShard, len(b))
	}
	if !bytes.Equal(b[:4], []byte(FooterMagic)) {
		return Footer{}, fmt.Errorf("%w: invalid shard footer magic", errs.ErrCorruptShard)
	}
	indexSize := binary.LittleEndian.Uint64(b[4:12])
	indexOffset := totalSize - FooterSize - int64(indexSize)
	if indexOffset < HeaderSize {
		return Footer{}, fmt.Errorf("%w: computed index offset %d is invalid", errs.ErrCorruptShard, indexOffset)
	}
	return Footer{IndexSize: indexSize, IndexOffset: indexOffset}, nil
}

// EncodeFooter renders the trailing 12-byte footer for the given index size.
func EncodeFooter(indexSize uint64) []byte {
	buf := make([]byte, FooterSize)
	copy(buf[:4], FooterMagic)
	binary.LittleEndian.PutUint64(buf[4:12], indexSize)
	return buf
}
