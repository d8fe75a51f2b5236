package main

import (
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/sidecar"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func newCmd_RebuildSidecar() *cli.Command {
	return &cli.Command{
		Name:        "rebuild-sidecar",
		Usage:       "Rebuild a shard's sidecar from the shard's own index.",
		ArgsUsage:   "<shard-key>",
		Description: "Recovers from a lost or corrupt .meta object. Reads never rebuild a sidecar; they fall back to the shard's own index.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Required: true, Usage: "Blob store root (local directory path or http(s):// base URL)"},
			&cli.Int64Flag{Name: "bigfile-threshold-bytes", Value: config.DefaultBigFileThresholdBytes},
			&cli.StringFlag{Name: "bigfiles-prefix", Value: config.DefaultBigfilesPrefix},
			&cli.IntFlag{Name: "n-bits", Value: config.DefaultNBits},
		},
		Action: func(c *cli.Context) error {
			shardKey := c.Args().Get(0)
			if shardKey == "" {
				return cli.Exit("must provide a shard key", 1)
			}

			store, err := openStore(c.String("store"))
			if err != nil {
				return err
			}
			desCfg := config.DESConfig{
				BigFileThresholdBytes: c.Int64("bigfile-threshold-bytes"),
				BigfilesPrefix:        c.String("bigfiles-prefix"),
				NBits:                 c.Int("n-bits"),
			}
			sidecars, err := sidecar.NewManager(store, desCfg, "", 1)
			if err != nil {
				return err
			}

			meta, err := sidecars.RebuildMetadata(c.Context, shardKey)
			if err != nil {
				return err
			}
			klog.InfoS("sidecar rebuilt", "shard", shardKey, "entries", len(meta.Index))
			return nil
		},
	}
}
