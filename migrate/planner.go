// Package migrate implements the watermark-driven migration cycle and the
// pure packer planner that drives it.
//
// The planner is deliberately IO-free: a migration cycle calls Plan before
// any byte is read from a source file or written to a shard, so plans can
// be inspected, logged, or retried without touching storage.
package migrate

import (
	"fmt"
	"time"

	"github.com/datavisioneasystore/des/errs"
	"github.com/datavisioneasystore/des/router"
)

// DefaultMaxShardSizeBytes is the soft cap one planned shard may grow to.
const DefaultMaxShardSizeBytes = 1_000_000_000

// DefaultNBits is the planner's shard-index bit width when none is set.
const DefaultNBits = 8

// FileToPack is a single source-table record awaiting shard assignment.
type FileToPack struct {
	UID        string
	CreatedAt  time.Time
	SizeBytes  int64
	SourcePath string
}

// ShardKey identifies a single shard target within a plan.
type ShardKey struct {
	DateDir  string
	ShardHex string
}

// String renders the shard key the way it appears as an object key prefix.
func (k ShardKey) String() string {
	return k.DateDir + "/" + k.ShardHex
}

// PlannerConfig bounds how large a single planned shard may grow and how
// UIDs route to shard keys.
type PlannerConfig struct {
	MaxShardSizeBytes int64
	NBits             int
}

// DefaultPlannerConfig returns the planner defaults.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{MaxShardSizeBytes: DefaultMaxShardSizeBytes, NBits: DefaultNBits}
}

// PlannedShard is one shard's worth of files, in the order they should be
// packed.
type PlannedShard struct {
	Key            ShardKey
	TotalSizeBytes int64
	Files          []FileToPack
}

// PackPlan is the full set of shards a migration cycle should produce.
type PackPlan struct {
	Shards []PlannedShard
}

func validateFile(f FileToPack) error {
	if f.UID == "" {
		return fmt.Errorf("%w: file to pack has empty uid", errs.ErrInvalidArgument)
	}
	if f.SizeBytes < 0 {
		return fmt.Errorf("%w: file %s has negative size_bytes %d", errs.ErrInvalidArgument, f.UID, f.SizeBytes)
	}
	if f.SourcePath == "" {
		return fmt.Errorf("%w: file %s has empty source_path", errs.ErrInvalidArgument, f.UID)
	}
	return nil
}

func validatePlannerConfig(cfg PlannerConfig) error {
	if cfg.MaxShardSizeBytes <= 0 {
		return fmt.Errorf("%w: max_shard_size_bytes must be positive, got %d", errs.ErrInvalidArgument, cfg.MaxShardSizeBytes)
	}
	if cfg.NBits < router.MinNBits || cfg.NBits > router.MaxNBits {
		return fmt.Errorf("%w: n_bits must be between %d and %d inclusive, got %d", errs.ErrInvalidArgument, router.MinNBits, router.MaxNBits, cfg.NBits)
	}
	return nil
}

// groupedFiles pairs a routing key with the files that hash to it, in the
// order they were first seen.
type groupedFiles struct {
	key   ShardKey
	files []FileToPack
}

func groupFilesByShardKey(files []FileToPack, cfg PlannerConfig) ([]groupedFiles, error) {
	order := make([]ShardKey, 0)
	byKey := make(map[ShardKey][]FileToPack)

	for _, f := range files {
		loc, err := router.Locate(f.UID, f.CreatedAt, cfg.NBits)
		if err != nil {
			return nil, err
		}
		key := ShardKey{DateDir: loc.DateDir, ShardHex: loc.ShardHex}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], f)
	}

	groups := make([]groupedFiles, 0, len(order))
	for _, key := range order {
		groups = append(groups, groupedFiles{key: key, files: byKey[key]})
	}
	return groups, nil
}

// Plan groups files into shards by routing key, splitting a shard whenever
// the next file would push its accumulated size over
// cfg.MaxShardSizeBytes. Files preserve their input order within a shard;
// shards for the same routing key stay adjacent and are numbered by
// creation order (greedy bin-by-arrival-order).
func Plan(files []FileToPack, cfg PlannerConfig) (PackPlan, error) {
	if err := validatePlannerConfig(cfg); err != nil {
		return PackPlan{}, err
	}
	for _, f := range files {
		if err := validateFile(f); err != nil {
			return PackPlan{}, err
		}
	}

	groups, err := groupFilesByShardKey(files, cfg)
	if err != nil {
		return PackPlan{}, err
	}

	var plan PackPlan
	for _, g := range groups {
		var current *PlannedShard
		for _, f := range g.files {
			if current == nil || current.TotalSizeBytes+f.SizeBytes > cfg.MaxShardSizeBytes {
				plan.Shards = append(plan.Shards, PlannedShard{Key: g.key})
				current = &plan.Shards[len(plan.Shards)-1]
			}
			current.Files = append(current.Files, f)
			current.TotalSizeBytes += f.SizeBytes
		}
	}
	return plan, nil
}

// EstimateShardCounts reports, per shard key, how many PlannedShards Plan
// would produce for files — useful for pre-flight capacity estimates
// without materializing the full plan.
func EstimateShardCounts(files []FileToPack, cfg PlannerConfig) (map[ShardKey]int, error) {
	plan, err := Plan(files, cfg)
	if err != nil {
		return nil, err
	}
	counts := make(map[ShardKey]int)
	for _, shard := range plan.Shards {
		counts[shard.Key]++
	}
	return counts, nil
}
