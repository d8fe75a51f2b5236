package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/migrate"
	"github.com/datavisioneasystore/des/sidecar"
	"github.com/datavisioneasystore/des/source"
	"github.com/datavisioneasystore/des/watermark"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func newCmd_Migrate() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run one or more watermark-driven migration cycles.",
		Description: "Archives rows from the configured source table into DES shard containers, advancing the archive watermark on success.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Required: true, Usage: "Blob store root (local directory path or http(s):// base URL)"},
			&cli.StringFlag{Name: "watermark-dsn", Required: true, Usage: "sqlite3 DSN for the des_archive_config / source tables"},
			&cli.StringFlag{Name: "source-table", Value: "files", Usage: "Source table name"},
			&cli.StringFlag{Name: "uid-column", Value: "uid"},
			&cli.StringFlag{Name: "created-at-column", Value: "created_at"},
			&cli.StringFlag{Name: "location-column", Value: "file_location"},
			&cli.IntFlag{Name: "shards-total", Value: 1, Usage: "Number of cooperating packer processes"},
			&cli.IntFlag{Name: "shard-id", Value: 0, Usage: "This process's shard index among shards-total"},
			&cli.IntFlag{Name: "page-size", Value: 1000},
			&cli.Int64Flag{Name: "max-shard-size-bytes", Value: migrate.DefaultMaxShardSizeBytes},
			&cli.IntFlag{Name: "n-bits", Value: config.DefaultNBits},
			&cli.StringFlag{Name: "compression", Value: "zstd", Usage: "none, zstd, or lz4"},
			&cli.Int64Flag{Name: "bigfile-threshold-bytes", Value: config.DefaultBigFileThresholdBytes},
			&cli.StringFlag{Name: "bigfiles-prefix", Value: config.DefaultBigfilesPrefix},
			&cli.BoolFlag{Name: "delete-source-files", Value: false},
			&cli.IntFlag{Name: "default-lag-days", Value: 7},
			&cli.StringFlag{Name: "default-archived-until", Usage: "RFC3339 timestamp seeding the watermark on first run (default: 30 days ago)"},
			&cli.IntFlag{Name: "sidecar-cache-size", Value: 1000},
			&cli.DurationFlag{Name: "interval", Usage: "If set, keep running cycles at this interval until interrupted"},
		},
		Action: func(c *cli.Context) error {
			return runMigrate(c.Context, c)
		},
	}
}

func runMigrate(ctx context.Context, c *cli.Context) error {
	store, err := openStore(c.String("store"))
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	db, err := sql.Open("sqlite3", c.String("watermark-dsn"))
	if err != nil {
		return fmt.Errorf("opening watermark database: %w", err)
	}
	defer db.Close()

	repo := watermark.NewRepository(db)

	codec, err := config.ParseCompressionCodec(c.String("compression"))
	if err != nil {
		return err
	}

	desCfg := config.DESConfig{
		BigFileThresholdBytes: c.Int64("bigfile-threshold-bytes"),
		BigfilesPrefix:        c.String("bigfiles-prefix"),
		NBits:                 c.Int("n-bits"),
	}

	sourceCfg := source.DefaultConfig(c.String("source-table"))
	sourceCfg.UIDColumn = c.String("uid-column")
	sourceCfg.CreatedAtColumn = c.String("created-at-column")
	sourceCfg.LocationColumn = c.String("location-column")
	sourceCfg.ShardsTotal = c.Int("shards-total")
	sourceCfg.ShardID = c.Int("shard-id")
	sourceCfg.PageSize = c.Int("page-size")
	sourceDB := source.NewProvider(db, sourceCfg)

	sidecars, err := sidecar.NewManager(store, desCfg, "", c.Int("sidecar-cache-size"))
	if err != nil {
		return err
	}

	var defaultArchivedUntil time.Time
	if v := c.String("default-archived-until"); v != "" {
		defaultArchivedUntil, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("parsing default-archived-until: %w", err)
		}
	}

	cfg := migrate.Config{
		Source: sourceCfg,
		Planner: migrate.PlannerConfig{
			MaxShardSizeBytes: c.Int64("max-shard-size-bytes"),
			NBits:             c.Int("n-bits"),
		},
		Compression: config.CompressionConfig{
			Codec:          codec,
			SkipExtensions: config.DefaultSkipExtensions(),
		},
		DES:                  desCfg,
		DeleteSourceFiles:    c.Bool("delete-source-files"),
		DefaultArchivedUntil: defaultArchivedUntil,
		DefaultLagDays:       c.Int("default-lag-days"),
	}

	orch := migrate.NewOrchestrator(repo, sourceDB, store, sidecars, nil, cfg)
	if err := orch.Initialize(ctx); err != nil {
		return err
	}

	interval := c.Duration("interval")
	if interval <= 0 {
		return runOneMigrationCycle(ctx, orch)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if err := runOneMigrationCycle(ctx, orch); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOneMigrationCycle(ctx, orch); err != nil {
				return err
			}
		}
	}
}

func runOneMigrationCycle(ctx context.Context, orch *migrate.Orchestrator) error {
	result, err := orch.RunCycle(ctx)
	if err != nil {
		return err
	}
	klog.InfoS("migration cycle finished",
		"run_id", result.RunID,
		"files_migrated", result.FilesMigrated,
		"files_failed", result.FilesFailed,
		"shards_created", result.ShardsCreated,
	)
	for _, e := range result.Errors {
		klog.Warning(e)
	}
	return nil
}
