package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func newCmd_Get() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{Name: "created-at", Required: true, Usage: "RFC3339 timestamp the file was originally created at"},
		&cli.StringFlag{Name: "out", Usage: "Write bytes to this path instead of stdout"},
	}, readPathFlags()...)

	return &cli.Command{
		Name:        "get",
		Usage:       "Fetch one file's bytes by uid and created_at.",
		ArgsUsage:   "<uid>",
		Description: "Reads a single file through the candidate-shard read path: extended retention, then sidecar-first lookup, falling back to a range-GET'd shard index.",
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

			data, err := r.Get(c.Context, uid, createdAt)
			if err != nil {
				return err
			}

			if out := c.String("out"); out != "" {
				return os.WriteFile(out, data, 0o644)
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}
