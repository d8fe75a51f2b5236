// Package config holds the typed configuration records shared by every DES
// component: compression policy, BigFile placement, and multi-zone blob
// store routing.
package config

import (
	"fmt"
	"path"
	"strings"

	"github.com/datavisioneasystore/des/errs"
)

// CompressionCodec identifies the inline-payload codec used for a shard
// entry. The byte values below are load-bearing: they are written verbatim
// into the shard index (see shard.codecToByte) and must stay stable across
// versions.
type CompressionCodec uint8

const (
	CodecNone CompressionCodec = 0
	CodecZSTD CompressionCodec = 1
	CodecLZ4  CompressionCodec = 2
)

func (c CompressionCodec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZSTD:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCompressionCodec maps a config string ("none", "zstd", "lz4") to its
// CompressionCodec value.
func ParseCompressionCodec(s string) (CompressionCodec, error) {
	switch strings.ToLower(s) {
	case "none":
		return CodecNone, nil
	case "zstd":
		return CodecZSTD, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression codec %q", errs.ErrInvalidArgument, s)
	}
}

// CompressionProfile is a named tuning preset; it does not affect wire
// format, only which codec/level a caller picks by default.
type CompressionProfile string

const (
	ProfileAggressive CompressionProfile = "aggressive"
	ProfileBalanced   CompressionProfile = "balanced"
	ProfileSpeed      CompressionProfile = "speed"
)

// DefaultSkipExtensions lists logical-name suffixes that are already
// compressed and should be stored inline without a second compression pass.
func DefaultSkipExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".gz", ".zip", ".bz2", ".xz"}
}

// CompressionConfig governs whether and how a file's payload is compressed
// before being written into a shard.
type CompressionConfig struct {
	Codec CompressionCodec
	// Level is codec-specific; zero means "use the codec's own default".
	Level          int
	Profile        CompressionProfile
	SkipExtensions []string
}

// ShouldCompress reports whether logicalName's payload should be run
// through c.Codec before storage.
func (c CompressionConfig) ShouldCompress(logicalName string) bool {
	suffix := strings.ToLower(path.Ext(logicalName))
	if suffix != "" {
		for _, skip := range c.SkipExtensions {
			if suffix == skip {
				return false
			}
		}
	}
	return c.Codec != CodecNone
}

// AggressiveZSTDConfig favors ratio over speed.
func AggressiveZSTDConfig() CompressionConfig {
	return CompressionConfig{Codec: CodecZSTD, Level: 9, Profile: ProfileAggressive, SkipExtensions: DefaultSkipExtensions()}
}

// BalancedZSTDConfig is the default profile for newly written shards.
func BalancedZSTDConfig() CompressionConfig {
	return CompressionConfig{Codec: CodecZSTD, Level: 5, Profile: ProfileBalanced, SkipExtensions: DefaultSkipExtensions()}
}

// SpeedLZ4Config favors throughput over ratio for latency-sensitive packers.
func SpeedLZ4Config() CompressionConfig {
	return CompressionConfig{Codec: CodecLZ4, Level: 0, Profile: ProfileSpeed, SkipExtensions: DefaultSkipExtensions()}
}
