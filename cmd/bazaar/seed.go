package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/node/httpapi"
	"github.com/bazaarnet/bazaar/node/repo"
)

var sampleItems = []struct {
	name     string
	category string
	price    int64
}{
	{"Handmade ceramic mug", "home", 2400},
	{"Vintage film camera", "electronics", 18900},
	{"Wool throw blanket", "home", 7900},
	{"Mechanical keyboard", "electronics", 12900},
	{"Leather notebook", "stationery", 3500},
	{"Cast iron skillet", "kitchen", 4500},
	{"Trail running shoes", "sports", 11000},
	{"Bonsai starter kit", "garden", 2900},
}

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "Create sample drafts on a running daemon and publish them",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "api",
			Usage: "daemon address, defaults to the one recorded in the repo",
		},
		&cli.IntFlag{
			Name:  "count",
			Value: 10,
		},
		&cli.StringSliceFlag{
			Name:  "seller",
			Usage: "seller ids to rotate through",
			Value: cli.NewStringSlice("seller-1", "seller-2", "seller-3"),
		},
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "number of listings in flight at once",
			Value: 4,
		},
		&cli.IntFlag{
			Name:  "rate",
			Usage: "listings created per second, 0 for no limit",
			Value: 5,
		},
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "wait for every listing to settle and report the outcome",
			Value: true,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 5 * time.Minute,
		},
	},
	Action: func(cctx *cli.Context) error {
		addr := cctx.String("api")
		if addr == "" {
			r, err := repo.NewFS(cctx.String(FlagRepoPath))
			if err != nil {
				return err
			}
			addr, err = r.APIEndpoint()
			if err != nil {
				return xerrors.Errorf("finding daemon endpoint (is it running? pass --api): %w", err)
			}
		}

		sellers := cctx.StringSlice("seller")
		if len(sellers) == 0 {
			return xerrors.Errorf("at least one --seller is required")
		}
		if cctx.Int("parallel") < 1 {
			return xerrors.Errorf("--parallel must be at least 1")
		}

		ctx, cancel := context.WithTimeout(reqContext(cctx), cctx.Duration("timeout"))
		defer cancel()

		c := httpapi.NewClient(addr)
		lim := limiterFromRate(cctx.Int("rate"))

		var published, failed atomic.Int64
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(cctx.Int("parallel"))

		for i := 0; i < cctx.Int("count"); i++ {
			item := sampleItems[i%len(sampleItems)]
			seller := sellers[i%len(sellers)]

			eg.Go(func() error {
				if err := lim.Wait(ectx); err != nil {
					return err
				}

				l, err := c.Create(ectx, listing.Draft{
					SellerID:        seller,
					Name:            fmt.Sprintf("%s #%d", item.name, i+1),
					Description:     "Seeded sample listing",
					Category:        item.category,
					PriceMinorUnits: item.price,
					Stock:           int64(1 + i%5),
				})
				if err != nil {
					return xerrors.Errorf("creating listing %d: %w", i, err)
				}
				if err := c.Publish(ectx, l.ID); err != nil {
					return xerrors.Errorf("publishing %s: %w", l.ID, err)
				}

				if !cctx.Bool("wait") {
					fmt.Printf("%s\t%s\t%s\n", l.ID, seller, statusString(listing.StatusPublishing))
					return nil
				}

				id := l.ID
				l, err = c.WaitSettled(ectx, id, time.Second)
				if err != nil {
					return xerrors.Errorf("waiting for %s: %w", id, err)
				}
				switch l.Status {
				case listing.StatusPublished:
					published.Add(1)
					fmt.Printf("%s\t%s\t%s\t%s\n", l.ID, seller, statusString(l.Status), l.TxRef)
				default:
					failed.Add(1)
					fmt.Printf("%s\t%s\t%s\t%s\n", l.ID, seller, statusString(l.Status), strings.TrimSpace(string(l.PublishAttempt.Reason)+" "+l.PublishAttempt.LastError))
				}
				return nil
			})
		}

		if err := eg.Wait(); err != nil {
			return err
		}
		if cctx.Bool("wait") {
			fmt.Printf("published: %d, failed: %d\n", published.Load(), failed.Load())
		}
		return nil
	},
}

func limiterFromRate(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Second/time.Duration(perSecond)), 1)
}

func statusString(s listing.Status) string {
	switch s {
	case listing.StatusPublished:
		return color.GreenString(string(s))
	case listing.StatusPublishFailed:
		return color.RedString(string(s))
	case listing.StatusPublishing:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}
