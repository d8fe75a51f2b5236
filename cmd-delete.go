package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func newCmd_Delete() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{Name: "created-at", Required: true, Usage: "RFC3339 timestamp the file was originally created at"},
		&cli.StringFlag{Name: "deleted-by", Required: true},
		&cli.StringFlag{Name: "reason", Required: true},
		&cli.StringFlag{Name: "ticket-id", Usage: "Optional ticket reference recorded with the tombstone"},
	}, readPathFlags()...)

	return &cli.Command{
		Name:        "delete",
		Usage:       "Tombstone one file by uid and created_at.",
		ArgsUsage:   "<uid>",
		Description: "Records a tombstone in the owning shard's sidecar. The shard's bytes are never rewritten.",
		Flags:       flags,
		Action: func(c *cli.Context) error {
			uid := c.Args().Get(0)
			if uid == "" {
				return cli.Exit("must provide a uid", 1)
			}
			createdAt, err := time.Parse(time.RFC3339, c.String("created-at"))
			if err != nil {
				return fmt.Errorf("parsing --created-at: %w", err)
			}

			store, err := openStore(c.String("store"))
			if err != nil {
				return err
			}
			r, err := buildRetriever(c, store)
			if err != nil {
				return err
			}

			if err := r.Delete(c.Context, uid, createdAt, c.String("deleted-by"), c.String("reason"), c.String("ticket-id")); err != nil {
				return err
			}
			klog.InfoS("tombstoned", "uid", uid, "created_at", createdAt)
			return nil
		},
	}
}
