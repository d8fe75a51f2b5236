// Package router maps (uid, created_at, n_bits) to a shard location.
// Pure functions only: no I/O, no caching, no state.
package router

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"time"

	"github.com/datavisioneasystore/des/errs"
)

// MinNBits and MaxNBits bound the valid shard-index bit width.
const (
	MinNBits = 4
	MaxNBits = 16
)

// Location is the resolved shard coordinate for a single (uid, created_at).
type Location struct {
	UID        string
	DateDir    string
	ShardIndex int
	ShardHex   string
	ObjectKey  string
}

// NormalizeUID returns the UID's canonical string form. Integers become
// their decimal representation; strings pass through unchanged.
func NormalizeUID(uid any) (string, error) {
	switch v := uid.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("%w: unsupported uid type %T", errs.ErrInvalidArgument, uid)
	}
}

func validateNBits(nBits int) error {
	if nBits < MinNBits || nBits > MaxNBits {
		return fmt.Errorf("%w: n_bits must be between %d and %d inclusive, got %d", errs.ErrInvalidArgument, MinNBits, MaxNBits, nBits)
	}
	return nil
}

// ShardIndex computes the shard index for a normalized UID. Purely-numeric
// UIDs are sharded by modulo; all other strings fall back to a CRC32-IEEE
// hash over the UTF-8 bytes. Both paths are fixed wire behavior — readers
// in other languages must compute the same index bit-for-bit
// (ShardIndex("12345", 8) == 57, ShardIndex("abc123", 8) == 92).
func ShardIndex(uid string, nBits int) (int, error) {
	if err := validateNBits(nBits); err != nil {
		return 0, err
	}
	mask := uint32(1)<<uint(nBits) - 1
	if uid != "" && isAllDigits(uid) {
		// Digit-wise modulo keeps numeric UIDs of any length on the
		// modulo path instead of overflowing a fixed-width parse.
		mod := uint32(1) << uint(nBits)
		var r uint32
		for i := 0; i < len(uid); i++ {
			r = (r*10 + uint32(uid[i]-'0')) % mod
		}
		return int(r), nil
	}
	sum := crc32.ChecksumIEEE([]byte(uid))
	return int(sum & mask), nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ShardHex renders a shard index as uppercase hex, zero-padded to
// max(1, n_bits/4) characters.
func ShardHex(shardIndex, nBits int) (string, error) {
	if err := validateNBits(nBits); err != nil {
		return "", err
	}
	maxValue := int(1<<uint(nBits) - 1)
	if shardIndex < 0 || shardIndex > maxValue {
		return "", fmt.Errorf("%w: shard_index %d outside range 0..%d", errs.ErrInvalidArgument, shardIndex, maxValue)
	}
	width := nBits / 4
	if width < 1 {
		width = 1
	}
	return strings.ToUpper(fmt.Sprintf("%0*X", width, shardIndex)), nil
}

// FormatDateDir formats created_at (in UTC) as YYYYMMDD.
func FormatDateDir(createdAt time.Time) string {
	return createdAt.UTC().Format("20060102")
}

// BuildObjectKey assembles the canonical shard object key.
func BuildObjectKey(dateDir, shardHex string) string {
	return dateDir + "/" + shardHex + ".des"
}

// Locate resolves the full shard coordinate for a UID and timestamp. It is a
// pure function: the same inputs always produce the same output, and no
// external state is consulted.
func Locate(uid any, createdAt time.Time, nBits int) (Location, error) {
	normalized, err := NormalizeUID(uid)
	if err != nil {
		return Location{}, err
	}
	shardIndex, err := ShardIndex(normalized, nBits)
	if err != nil {
		return Location{}, err
	}
	shardHex, err := ShardHex(shardIndex, nBits)
	if err != nil {
		return Location{}, err
	}
	dateDir := FormatDateDir(createdAt)
	return Location{
		UID:        normalized,
		DateDir:    dateDir,
		ShardIndex: shardIndex,
		ShardHex:   shardHex,
		ObjectKey:  BuildObjectKey(dateDir, shardHex),
	}, nil
}
