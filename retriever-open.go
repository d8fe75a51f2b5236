package main

import (
	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/retriever"
	"github.com/datavisioneasystore/des/sidecar"
	"github.com/urfave/cli/v2"
)

// readPathFlags are the flags every command reading through a Retriever
// shares: get, delete, serve.
func readPathFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "store", Required: true, Usage: "Blob store root (local directory path or http(s):// base URL)"},
		&cli.IntFlag{Name: "n-bits", Value: config.DefaultNBits},
		&cli.Int64Flag{Name: "bigfile-threshold-bytes", Value: config.DefaultBigFileThresholdBytes},
		&cli.StringFlag{Name: "bigfiles-prefix", Value: config.DefaultBigfilesPrefix},
		&cli.IntFlag{Name: "sidecar-cache-size", Value: 1000},
		&cli.IntFlag{Name: "index-cache-size", Value: 1000},
		&cli.StringFlag{Name: "ext-retention-dir", Usage: "If set, a filesystem-backed extended-retention area is consulted before any shard lookup"},
		&cli.BoolFlag{Name: "enforce-checksum", Value: false, Usage: "Return an error instead of a warning on a sidecar checksum mismatch"},
	}
}

// buildRetriever wires a Retriever (and the sidecar.Manager backing it) from
// readPathFlags(), against an already-opened store.
func buildRetriever(c *cli.Context, store blobstore.Store) (*retriever.Retriever, error) {
	desCfg := config.DESConfig{
		BigFileThresholdBytes: c.Int64("bigfile-threshold-bytes"),
		BigfilesPrefix:        c.String("bigfiles-prefix"),
		NBits:                 c.Int("n-bits"),
	}

	sidecars, err := sidecar.NewManager(store, desCfg, "", c.Int("sidecar-cache-size"))
	if err != nil {
		return nil, err
	}

	indexCache, err := retriever.NewIndexCache(c.Int("index-cache-size"))
	if err != nil {
		return nil, err
	}

	opts := retriever.Options{
		IndexCache:      indexCache,
		EnforceChecksum: c.Bool("enforce-checksum"),
		ExtPrefix:       retriever.DefaultExtPrefix,
		BigfilesPrefix:  desCfg.BigfilesPrefix,
	}
	if dir := c.String("ext-retention-dir"); dir != "" {
		opts.ExtendedRetention = retriever.NewFSExtendedRetention(dir)
	}

	return retriever.New(store, sidecars, c.Int("n-bits"), opts)
}
