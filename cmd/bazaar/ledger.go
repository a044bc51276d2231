package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/ledger/ledgerrpc"
	"github.com/bazaarnet/bazaar/ledger/memledger"
	"github.com/bazaarnet/bazaar/node"
)

var ledgerCmd = &cli.Command{
	Name:  "ledger",
	Usage: "Development ledger tools",
	Subcommands: []*cli.Command{
		ledgerServeCmd,
	},
}

var ledgerServeCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve an in-memory ledger over JSON-RPC for nodes using the rpc backend",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: "127.0.0.1:3100",
		},
		&cli.StringFlag{
			Name:  "network",
			Value: "devnet",
		},
		&cli.StringFlag{
			Name:  "contract",
			Value: "0x5fbdb2315678afecb367f032d93f642f64180aa3",
		},
		&cli.DurationFlag{
			Name:  "block-time",
			Value: 2 * time.Second,
		},
		&cli.Uint64Flag{
			Name:  "confidence",
			Usage: "blocks a registration needs to be considered confirmed",
			Value: 1,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)

		if cctx.Duration("block-time") <= 0 {
			return xerrors.Errorf("block-time must be positive")
		}

		ml := memledger.New(ledger.Info{
			Network:         cctx.String("network"),
			ContractAddress: cctx.String("contract"),
		}, cctx.Uint64("confidence"))

		bound, stopHTTP, err := node.ServeHTTP(ledgerrpc.Handler(ml), cctx.String("listen"), 0)
		if err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(ctx)
		go ml.Run(runCtx, cctx.Duration("block-time"))

		log.Infow("ledger serving", "addr", "http://"+bound.String()+"/rpc/v0", "network", cctx.String("network"))

		shutdownChan := make(chan struct{})
		<-node.MonitorShutdown(shutdownChan,
			node.ShutdownHandler{Component: "rpc", StopFunc: stopHTTP},
			node.ShutdownHandler{Component: "miner", StopFunc: func(context.Context) error {
				cancel()
				return nil
			}},
		)
		return nil
	},
}
