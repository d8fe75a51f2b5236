package shard

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/datavisioneasystore/des/errs"
)

func serializeMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: serializing entry metadata: %v", errs.ErrInvalidArgument, err)
	}
	return b, nil
}

func deserializeMeta(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: index metadata must decode to an object: %v", errs.ErrCorruptShard, err)
	}
	return m, nil
}

func ensureAvailable(data []byte, offset, needed int, message string) error {
	if offset+needed > len(data) {
		return fmt.Errorf("%w: %s", errs.ErrCorruptShard, message)
	}
	return nil
}

func readUID(data []byte, offset int) (string, int, error) {
	if err := ensureAvailable(data, offset, 2, "truncated index while reading name length"); err != nil {
		return "", 0, err
	}
	nameLen := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if err := ensureAvailable(data, offset, nameLen, "truncated index while reading uid"); err != nil {
		return "", 0, err
	}
	uid := string(data[offset : offset+nameLen])
	offset += nameLen
	return uid, offset, nil
}

func parseLegacyEntry(data []byte, offset int, uid string, dataSectionEnd int64) (*Entry, int, error) {
	if err := ensureAvailable(data, offset, 16+1+16, "truncated index while reading entry metadata"); err != nil {
		return nil, 0, err
	}
	fileOffset := binary.LittleEndian.Uint64(data[offset:])
	length := binary.LittleEndian.Uint64(data[offset+8:])
	offset += 16
	codecByte := data[offset]
	offset++
	compressedSize := binary.LittleEndian.Uint64(data[offset:])
	uncompressedSize := binary.LittleEndian.Uint64(data[offset+8:])
	offset += 16

	if int64(fileOffset+length) > dataSectionEnd {
		return nil, 0, fmt.Errorf("%w: indexed file extends beyond data section", errs.ErrCorruptShard)
	}
	codec, err := byteToCodec(codecByte)
	if err != nil {
		return nil, 0, err
	}
	return &Entry{
		UID:              uid,
		Offset:           int64(fileOffset),
		Length:           length,
		Codec:            codec,
		CompressedSize:   compressedSize,
		UncompressedSize: uncompressedSize,
	}, offset, nil
}

func parseBigFileEntry(data []byte, offset int, uid string) (*Entry, int, error) {
	if err := ensureAvailable(data, offset, 2, "truncated bigfile entry while reading hash length"); err != nil {
		return nil, 0, err
	}
	hashLen := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if err := ensureAvailable(data, offset, hashLen, "truncated bigfile entry while reading hash"); err != nil {
		return nil, 0, err
	}
	hash := string(data[offset : offset+hashLen])
	offset += hashLen

	if err := ensureAvailable(data, offset, 8+4, "truncated bigfile entry while reading sizes"); err != nil {
		return nil, 0, err
	}
	bigfileSize := binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	metaLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	if err := ensureAvailable(data, offset, metaLen, "truncated bigfile entry while reading metadata"); err != nil {
		return nil, 0, err
	}
	meta, err := deserializeMeta(data[offset : offset+metaLen])
	if err != nil {
		return nil, 0, err
	}
	offset += metaLen

	return &Entry{
		UID:              uid,
		UncompressedSize: bigfileSize,
		IsBigFile:        true,
		BigFileHash:      hash,
		BigFileSize:      bigfileSize,
		Meta:             meta,
	}, offset, nil
}

func parseInlineEntry(data []byte, offset int, uid string, dataSectionEnd int64) (*Entry, int, error) {
	if err := ensureAvailable(data, offset, 16+1+16+4, "truncated index while reading entry metadata"); err != nil {
		return nil, 0, err
	}
	fileOffset := binary.LittleEndian.Uint64(data[offset:])
	length := binary.LittleEndian.Uint64(data[offset+8:])
	offset += 16
	codecByte := data[offset]
	offset++
	compressedSize := binary.LittleEndian.Uint64(data[offset:])
	uncompressedSize := binary.LittleEndian.Uint64(data[offset+8:])
	offset += 16
	metaLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	if err := ensureAvailable(data, offset, metaLen, "truncated entry while reading metadata"); err != nil {
		return nil, 0, err
	}
	meta, err := deserializeMeta(data[offset : offset+metaLen])
	if err != nil {
		return nil, 0, err
	}
	offset += metaLen

	if int64(fileOffset+length) > dataSectionEnd {
		return nil, 0, fmt.Errorf("%w: indexed file extends beyond data section", errs.ErrCorruptShard)
	}
	codec, err := byteToCodec(codecByte)
	if err != nil {
		return nil, 0, err
	}
	return &Entry{
		UID:              uid,
		Offset:           int64(fileOffset),
		Length:           length,
		Codec:            codec,
		CompressedSize:   compressedSize,
		UncompressedSize: uncompressedSize,
		Meta:             meta,
	}, offset, nil
}

func parseV2Entry(data []byte, offset int, uid string, dataSectionEnd int64) (*Entry, int, error) {
	if err := ensureAvailable(data, offset, 1, "truncated index while reading flags"); err != nil {
		return nil, 0, err
	}
	flags := data[offset]
	offset++
	if flags&bigFileFlag != 0 {
		return parseBigFileEntry(data, offset, uid)
	}
	return parseInlineEntry(data, offset, uid, dataSectionEnd)
}

// parseIndex decodes the index section into an Index, dispatching to the
// legacy or v2 entry layout based on the shard's header version.
func parseIndex(data []byte, dataSectionEnd int64, version byte) (*Index, error) {
	if err := ensureAvailable(data, 0, 4, "index too small to contain entry count"); err != nil {
		return nil, err
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	offset := 4

	idx := NewIndex()
	for i := 0; i < count; i++ {
		uid, next, err := readUID(data, offset)
		if err != nil {
			return nil, err
		}
		offset = next

		var entry *Entry
		if version == LegacyVersion {
			entry, offset, err = parseLegacyEntry(data, offset, uid, dataSectionEnd)
		} else {
			entry, offset, err = parseV2Entry(data, offset, uid, dataSectionEnd)
		}
		if err != nil {
			return nil, err
		}
		idx.Add(entry)
	}
	return idx, nil
}

// serializeIndex renders entries (in insertion order) as a v2 index
// section: uint32 count followed by each entry's encoding.
func serializeIndex(order []string, entries map[string]*Entry) ([]byte, error) {
	buf := make([]byte, 4, 64*len(entries)+4)
	binary.LittleEndian.PutUint32(buf, uint32(len(entries)))

	for _, uid := range order {
		e := entries[uid]
		nameBytes := []byte(e.UID)
		if len(nameBytes) > 0xFFFF {
			return nil, fmt.Errorf("%w: uid too long to encode: %q", errs.ErrInvalidArgument, e.UID)
		}
		lenBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenBuf, uint16(len(nameBytes)))
		buf = append(buf, lenBuf...)
		buf = append(buf, nameBytes...)

		metaBytes, err := serializeMeta(e.Meta)
		if err != nil {
			return nil, err
		}

		if e.IsBigFile {
			buf = append(buf, bigFileFlag)
			hashBytes := []byte(e.BigFileHash)
			hashLenBuf := make([]byte, 2)
			binary.LittleEndian.PutUint16(hashLenBuf, uint16(len(hashBytes)))
			buf = append(buf, hashLenBuf...)
			buf = append(buf, hashBytes...)
			buf = appendUint64(buf, e.BigFileSize)
			buf = appendUint32(buf, uint32(len(metaBytes)))
			buf = append(buf, metaBytes...)
		} else {
			buf = append(buf, 0)
			buf = appendUint64(buf, uint64(e.Offset))
			buf = appendUint64(buf, e.Length)
			codecByte, err := codecToByte(e.Codec)
			if err != nil {
				return nil, err
			}
			buf = append(buf, codecByte)
			buf = appendUint64(buf, e.CompressedSize)
			buf = appendUint64(buf, e.UncompressedSize)
			buf = appendUint32(buf, uint32(len(metaBytes)))
			buf = append(buf, metaBytes...)
		}
	}
	return buf, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(buf, tmp...)
}

func appendUint32(buf []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(buf, tmp...)
}
