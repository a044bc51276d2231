package main

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/node/config"
	"github.com/bazaarnet/bazaar/node/repo"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Manage node config",
	Subcommands: []*cli.Command{
		configDefaultCmd,
		configShowCmd,
	},
}

var configDefaultCmd = &cli.Command{
	Name:  "default",
	Usage: "Print default node config",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-comment",
			Usage: "don't comment default values",
		},
	},
	Action: func(cctx *cli.Context) error {
		c := config.DefaultNode()

		if cctx.Bool("no-comment") {
			buf := new(bytes.Buffer)
			_, _ = buf.WriteString("# Default config:\n")
			e := toml.NewEncoder(buf)
			if err := e.Encode(c); err != nil {
				return xerrors.Errorf("encoding default config: %w", err)
			}

			fmt.Println(buf.String())
			return nil
		}

		cb, err := config.ConfigComment(c)
		if err != nil {
			return err
		}

		fmt.Println(string(cb))
		return nil
	},
}

var configShowCmd = &cli.Command{
	Name:  "show",
	Usage: "Print the config the node in the repo would run with",
	Action: func(cctx *cli.Context) error {
		r, err := repo.NewFS(cctx.String(FlagRepoPath))
		if err != nil {
			return err
		}

		ok, err := r.Exists()
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.Errorf("repo not initialized")
		}

		lr, err := r.LockRO()
		if err != nil {
			return xerrors.Errorf("locking repo: %w", err)
		}

		cfg, err := lr.Config()
		if err != nil {
			_ = lr.Close()
			return xerrors.Errorf("getting node config: %w", err)
		}
		if err := lr.Close(); err != nil {
			return err
		}

		buf := new(bytes.Buffer)
		if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
			return xerrors.Errorf("encoding node config: %w", err)
		}
		fmt.Println(buf.String())
		return nil
	},
}
