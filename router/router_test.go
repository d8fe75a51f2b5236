package router

import (
	"errors"
	"testing"
	"time"

	"github.com/datavisioneasystore/des/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardIndex_SpecVectors(t *testing.T) {
	idx, err := ShardIndex("12345", 8)
	require.NoError(t, err)
	assert.Equal(t, 57, idx)

	idx, err = ShardIndex("abc123", 8)
	require.NoError(t, err)
	assert.Equal(t, 92, idx)
}

func TestShardIndex_NumericUIDsSharingResidueShareShard(t *testing.T) {
	a, err := ShardIndex("612", 8)
	require.NoError(t, err)
	b, err := ShardIndex("100", 8)
	require.NoError(t, err)
	assert.Equal(t, 100, a, "612 mod 256")
	assert.Equal(t, a, b)

	c, err := ShardIndex("356", 8)
	require.NoError(t, err)
	assert.Equal(t, 100, c)
}

func TestShardIndex_LongNumericUID(t *testing.T) {
	// Numeric UIDs longer than any machine word still route by modulo,
	// not by the CRC fallback. 10^30 mod 256 == 0.
	idx, err := ShardIndex("1000000000000000000000000000000", 8)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestShardIndex_NumericModuloIsDeterministic(t *testing.T) {
	a, err := ShardIndex("1000", 4)
	require.NoError(t, err)
	b, err := ShardIndex("1000", 4)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 1<<4)
}

func TestShardIndex_RejectsOutOfRangeNBits(t *testing.T) {
	_, err := ShardIndex("1", 3)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = ShardIndex("1", 17)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestNormalizeUID(t *testing.T) {
	s, err := NormalizeUID("abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", s)

	s, err = NormalizeUID(12345)
	require.NoError(t, err)
	assert.Equal(t, "12345", s)

	s, err = NormalizeUID(int64(98765))
	require.NoError(t, err)
	assert.Equal(t, "98765", s)

	_, err = NormalizeUID(3.14)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestShardHex_WidthAndCase(t *testing.T) {
	hex, err := ShardHex(57, 8)
	require.NoError(t, err)
	assert.Equal(t, "39", hex)

	hex, err = ShardHex(5, 4)
	require.NoError(t, err)
	assert.Equal(t, "5", hex)

	hex, err = ShardHex(255, 8)
	require.NoError(t, err)
	assert.Equal(t, "FF", hex)

	_, err = ShardHex(1<<8, 8)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = ShardHex(-1, 8)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestFormatDateDir(t *testing.T) {
	ts := time.Date(2026, 3, 5, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, "20260305", FormatDateDir(ts))
}

func TestBuildObjectKey(t *testing.T) {
	assert.Equal(t, "20260305/39.des", BuildObjectKey("20260305", "39"))
}

func TestLocate(t *testing.T) {
	ts := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	loc, err := Locate("12345", ts, 8)
	require.NoError(t, err)
	assert.Equal(t, "12345", loc.UID)
	assert.Equal(t, "20260305", loc.DateDir)
	assert.Equal(t, 57, loc.ShardIndex)
	assert.Equal(t, "39", loc.ShardHex)
	assert.Equal(t, "20260305/39.des", loc.ObjectKey)
}

func TestLocate_IntUID(t *testing.T) {
	ts := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	loc, err := Locate(12345, ts, 8)
	require.NoError(t, err)
	assert.Equal(t, "12345", loc.UID)
	assert.Equal(t, 57, loc.ShardIndex)
}

func TestLocate_InvalidNBits(t *testing.T) {
	ts := time.Now()
	_, err := Locate("x", ts, 100)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
