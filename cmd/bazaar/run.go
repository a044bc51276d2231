package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	metricsprom "github.com/ipfs/go-metrics-prometheus"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/metrics"
	"github.com/bazaarnet/bazaar/node"
	"github.com/bazaarnet/bazaar/node/httpapi"
	"github.com/bazaarnet/bazaar/node/modules/dtypes"
	"github.com/bazaarnet/bazaar/node/repo"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start a bazaar daemon process",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "api",
			Usage: "listen address for the HTTP API, overrides API.ListenAddress",
		},
		&cli.StringFlag{
			Name:    "config",
			EnvVars: []string{"BAZAAR_CONFIG"},
			Usage:   "config file to use instead of the one in the repo",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)

		// datastore metrics are created when the repo opens
		if err := metricsprom.Inject(); err != nil {
			log.Warnf("unable to inject prometheus ipfs/go-metrics exporter; some metrics will be unavailable; err: %s", err)
		}

		r, err := repo.NewFS(cctx.String(FlagRepoPath))
		if err != nil {
			return xerrors.Errorf("opening fs repo: %w", err)
		}
		if cctx.IsSet("config") {
			r.SetConfigPath(cctx.String("config"))
		}

		if err := r.Init(); err != nil && err != repo.ErrRepoExists {
			return xerrors.Errorf("repo init error: %w", err)
		}

		shutdownChan := make(chan struct{})

		var n node.Node
		stop, err := node.New(ctx,
			node.Repo(r),
			node.Override(new(dtypes.ShutdownChan), shutdownChan),
			node.ApplyIf(func(s *node.Settings) bool { return cctx.IsSet("api") },
				node.Override(node.SetAPIEndpointKey, func(lr repo.LockedRepo) error {
					return lr.SetAPIEndpoint(cctx.String("api"))
				}),
			),
			node.Bazaar(&n),
		)
		if err != nil {
			return xerrors.Errorf("initializing node: %w", err)
		}

		addr := n.Config.API.ListenAddress
		if cctx.IsSet("api") {
			addr = cctx.String("api")
		}

		exporter, err := metrics.Exporter("bazaar", nil)
		if err != nil {
			return xerrors.Errorf("registering metrics: %w", err)
		}

		ictx, _ := tag.New(ctx,
			tag.Insert(metrics.Version, build.BuildVersion),
			tag.Insert(metrics.Commit, build.CurrentCommit),
			tag.Insert(metrics.Network, n.Info.Network),
		)
		stats.Record(ictx, metrics.BazaarInfo.M(1))

		h := httpapi.Handler(httpapi.Params{
			Store:     n.Store,
			Publisher: n.Publisher,
			Alerts:    n.Alerts,
			Pool:      n.Pool,
			Metrics:   exporter,
		})

		bound, stopHTTP, err := node.ServeHTTP(h, addr, time.Duration(n.Config.API.Timeout))
		if err != nil {
			_ = stop(context.Background())
			return err
		}
		log.Infow("bazaar daemon started", "api", bound.String(), "network", n.Info.Network, "contract", n.Info.ContractAddress)

		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.Warnf("notifying systemd: %s", err)
		}

		finishCh := node.MonitorShutdown(shutdownChan,
			node.ShutdownHandler{Component: "http", StopFunc: stopHTTP},
			node.ShutdownHandler{Component: "node", StopFunc: stop},
		)
		<-finishCh
		return nil
	},
}
