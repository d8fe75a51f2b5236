package shard

import "github.com/datavisioneasystore/des/config"

// RemoteIndex is a shard's header/footer/index triple, parsed from three
// independently range-GET'd byte slices rather than one io.ReaderAt. It
// backs retriever's index-cache fallback path, where only HEADER, FOOTER,
// and INDEX are ever fetched — never the DATA section — until a specific
// UID's payload is requested.
type RemoteIndex struct {
	Version byte
	Index   *Index
	// DataEnd is the byte offset where DATA ends (== index start), used to
	// validate inline entry offsets stay inside the DATA section.
	DataEnd int64
}

// ParseRemoteIndex decodes a shard's index section given the three ranges
// a cold fallback read already fetched: the 8-byte header, the 12-byte
// footer, and the index bytes footer describes. totalSize is the shard
// object's total size (recovered from the footer's suffix range-GET,
// never requiring a separate HEAD call).
func ParseRemoteIndex(headerBytes, footerBytes, indexBytes []byte, totalSize int64) (*RemoteIndex, error) {
	header, err := ParseHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	footer, err := ParseFooter(footerBytes, totalSize)
	if err != nil {
		return nil, err
	}
	idx, err := parseIndex(indexBytes, footer.IndexOffset, header.Version)
	if err != nil {
		return nil, err
	}
	return &RemoteIndex{Version: header.Version, Index: idx, DataEnd: footer.IndexOffset}, nil
}

// Decompress reverses the codec applied to an inline entry's payload,
// exposed for callers (retriever) that fetch DATA bytes via their own
// range-GET rather than through a Reader.
func Decompress(codec config.CompressionCodec, data []byte, uncompressedSize uint64) ([]byte, error) {
	return decompress(codec, data, uncompressedSize)
}
