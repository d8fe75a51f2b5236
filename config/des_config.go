package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/router"
)

const (
	envBigFileThreshold = "DES_BIGFILE_THRESHOLD_BYTES"
	envBigfilesPrefix   = "DES_BIGFILES_PREFIX"
	envNBits            = "DES_N_BITS"

	// DefaultBigFileThresholdBytes is the inline/BigFile cutover point used
	// when DES_BIGFILE_THRESHOLD_BYTES is unset.
	DefaultBigFileThresholdBytes int64 = 10 << 20 // 10 MiB
	// DefaultBigfilesPrefix is the subdirectory (local) or key prefix
	// (remote) BigFiles are stored under, relative to their owning shard.
	DefaultBigfilesPrefix = "_bigfiles"
	// DefaultNBits is the shard-index bit width used when DES_N_BITS is
	// unset; 8 bits gives 256 shards per date directory.
	DefaultNBits = 8
)

// DESConfig holds the process-wide tunables that both the packer and the
// retriever must agree on: the BigFile threshold, the BigFiles directory
// name, and the shard-index bit width.
type DESConfig struct {
	BigFileThresholdBytes int64
	BigfilesPrefix        string
	NBits                 int
}

// DefaultDESConfig returns the built-in defaults (no environment lookup).
func DefaultDESConfig() DESConfig {
	return DESConfig{
		BigFileThresholdBytes: DefaultBigFileThresholdBytes,
		BigfilesPrefix:        DefaultBigfilesPrefix,
		NBits:                 DefaultNBits,
	}
}

// DESConfigFromEnv builds a DESConfig from DES_* environment variables,
// falling back to DefaultDESConfig for anything unset. A malformed number
// or an n_bits outside the valid range is returned as an error.
func DESConfigFromEnv() (DESConfig, error) {
	cfg := DefaultDESConfig()

	if v := os.Getenv(envBigFileThreshold); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return DESConfig{}, err
		}
		cfg.BigFileThresholdBytes = n
	}
	if v := os.Getenv(envBigfilesPrefix); v != "" {
		cfg.BigfilesPrefix = v
	}
	if v := os.Getenv(envNBits); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return DESConfig{}, err
		}
		cfg.NBits = n
	}
	if err := validateNBits(cfg.NBits); err != nil {
		return DESConfig{}, err
	}
	return cfg, nil
}

func validateNBits(nBits int) error {
	if nBits < router.MinNBits || nBits > router.MaxNBits {
		return fmt.Errorf("%w: n_bits %d outside valid range %d..%d", errs.ErrInvalidArgument, nBits, router.MinNBits, router.MaxNBits)
	}
	return nil
}
