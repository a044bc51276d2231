package main

import (
	"context"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/lib/bazaarlog"
)

var log = logging.Logger("main")

const FlagRepoPath = "repo"

func main() {
	bazaarlog.SetupLogLevels()

	local := []*cli.Command{
		runCmd,
		configCmd,
		ledgerCmd,
		seedCmd,
	}

	app := &cli.App{
		Name:                 "bazaar",
		Usage:                "Marketplace listing catalog with ledger publishing",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    FlagRepoPath,
				EnvVars: []string{"BAZAAR_PATH"},
				Value:   "~/.bazaar",
				Usage:   "path to the node repo",
			},
		},

		Commands: local,
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}

func reqContext(cctx *cli.Context) context.Context {
	if cctx.Context != nil {
		return cctx.Context
	}
	return context.Background()
}
