package shard

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
	"github.com/klauspost/compress/zstd"
	"github.com/mostynb/zstdpool-freelist"
	"github.com/pierrec/lz4/v4"
)

// zstdEncoderPools holds one encoder pool per effective zstd encoder
// level, created lazily; the level comes from CompressionConfig.Level so
// the aggressive/balanced/speed profiles produce genuinely different
// output.
var zstdEncoderPools = struct {
	mu    sync.Mutex
	pools map[zstd.EncoderLevel]*zstdpool.EncoderPool
}{pools: make(map[zstd.EncoderLevel]*zstdpool.EncoderPool)}

func zstdEncoderPoolFor(level int) *zstdpool.EncoderPool {
	encLevel := zstd.SpeedDefault
	if level > 0 {
		encLevel = zstd.EncoderLevelFromZstd(level)
	}
	zstdEncoderPools.mu.Lock()
	defer zstdEncoderPools.mu.Unlock()
	pool, ok := zstdEncoderPools.pools[encLevel]
	if !ok {
		p := zstdpool.NewEncoderPool(zstd.WithEncoderLevel(encLevel))
		pool = &p
		zstdEncoderPools.pools[encLevel] = pool
	}
	return pool
}

var zstdDecoderPool = zstdpool.NewDecoderPool()

// lz4Levels maps CompressionConfig.Level 1..9 onto lz4's level constants;
// 0 selects the fast (default) path.
var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func lz4LevelFor(level int) lz4.CompressionLevel {
	if level <= 0 {
		return lz4.Fast
	}
	if level >= len(lz4Levels) {
		return lz4.Level9
	}
	return lz4Levels[level]
}

func codecToByte(c config.CompressionCodec) (byte, error) {
	switch c {
	case config.CodecNone:
		return 0, nil
	case config.CodecZSTD:
		return 1, nil
	case config.CodecLZ4:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: unsupported codec %v", errs.ErrCorruptShard, c)
	}
}

func byteToCodec(b byte) (config.CompressionCodec, error) {
	switch b {
	case 0:
		return config.CodecNone, nil
	case 1:
		return config.CodecZSTD, nil
	case 2:
		return config.CodecLZ4, nil
	default:
		return 0, fmt.Errorf("%w: unknown codec byte %d", errs.ErrCorruptShard, b)
	}
}

func compress(cfg config.CompressionConfig, data []byte) ([]byte, error) {
	switch cfg.Codec {
	case config.CodecNone:
		return data, nil
	case config.CodecZSTD:
		pool := zstdEncoderPoolFor(cfg.Level)
		enc, err := pool.Get(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd encoder pool: %v", errs.ErrTransient, err)
		}
		defer pool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	case config.CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4LevelFor(cfg.Level))); err != nil {
			return nil, fmt.Errorf("%w: lz4 level %d: %v", errs.ErrInvalidArgument, cfg.Level, err)
		}
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("%w: lz4 compress: %v", errs.ErrCorruptShard, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("%w: lz4 compress close: %v", errs.ErrCorruptShard, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported codec %v", errs.ErrCorruptShard, cfg.Codec)
	}
}

// decompress reverses compress, given the entry's recorded uncompressed
// size for a defensive length check.
func decompress(codec config.CompressionCodec, data []byte, uncompressedSize uint64) ([]byte, error) {
	switch codec {
	case config.CodecNone:
		return data, nil
	case config.CodecZSTD:
		dec, err := zstdDecoderPool.Get(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decoder pool: %v", errs.ErrTransient, err)
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decompress: %v", errs.ErrCorruptShard, err)
		}
		if uncompressedSize != 0 && uint64(len(out)) != uncompressedSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", errs.ErrCorruptShard)
		}
		return out, nil
	case config.CodecLZ4:
		zr := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 decompress: %v", errs.ErrCorruptShard, err)
		}
		if uncompressedSize != 0 && uint64(len(out)) != uncompressedSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", errs.ErrCorruptShard)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported codec %v", errs.ErrCorruptShard, codec)
	}
}
