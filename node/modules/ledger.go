package modules

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/identity"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/ledger/ledgerrpc"
	"github.com/bazaarnet/bazaar/ledger/memledger"
	"github.com/bazaarnet/bazaar/node/config"
	"github.com/bazaarnet/bazaar/node/modules/dtypes"
	"github.com/bazaarnet/bazaar/node/modules/helpers"
)

func MemLedger(cfg *config.BazaarNode) *memledger.Ledger {
	return memledger.New(ledger.Info{
		Network:         cfg.Ledger.Network,
		ContractAddress: cfg.Ledger.ContractAddress,
	}, cfg.Ledger.Confidence)
}

func MemLedgerInfo(l *memledger.Ledger) ledger.Info {
	return l.Info()
}

// RunMemLedger mines blocks every configured block time.
func RunMemLedger(mctx helpers.MetricsCtx, lc fx.Lifecycle, cfg *config.BazaarNode, l *memledger.Ledger) {
	bt := time.Duration(cfg.Ledger.BlockTime)
	log.Infow("running in-process ledger", "network", cfg.Ledger.Network, "blockTime", bt)
	background(mctx, lc, func(ctx context.Context) {
		l.Run(ctx, bt)
	})
}

func RPCLedger(mctx helpers.MetricsCtx, lc fx.Lifecycle, cfg *config.BazaarNode) (*ledgerrpc.Client, error) {
	header := http.Header{}
	if cfg.Ledger.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Ledger.Token)
	}

	c, closer, err := ledgerrpc.NewClient(mctx, cfg.Ledger.Address, header)
	if err != nil {
		return nil, xerrors.Errorf("connecting to ledger at %s: %w", cfg.Ledger.Address, err)
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			closer()
			return nil
		},
	})
	return c, nil
}

func RPCLedgerInfo(mctx helpers.MetricsCtx, c *ledgerrpc.Client) (ledger.Info, error) {
	if err := c.CheckVersion(mctx); err != nil {
		return ledger.Info{}, err
	}
	info, err := c.Info(mctx)
	if err != nil {
		return ledger.Info{}, xerrors.Errorf("getting ledger info: %w", err)
	}
	return info, nil
}

// IdentityPool builds the signing identity pool and raises its sequences to
// the ledger's view on start.
func IdentityPool(mctx helpers.MetricsCtx, lc fx.Lifecycle, cfg *config.BazaarNode, mds dtypes.MetadataDS, lcli ledger.Client) (*identity.Pool, error) {
	pool, err := identity.NewPool(mctx, mds, cfg.Identities.Addresses, identity.StaticResolver(cfg.Identities.Sellers), time.Duration(cfg.Identities.AcquireTimeout))
	if err != nil {
		return nil, xerrors.Errorf("creating identity pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pool.Sync(ctx, lcli)
		},
	})
	return pool, nil
}
