package modules

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/contentstore"
	"github.com/bazaarnet/bazaar/contentstore/ipfshttp"
	"github.com/bazaarnet/bazaar/contentstore/localstore"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/listing/dsstore"
	"github.com/bazaarnet/bazaar/listing/sqlstore"
	"github.com/bazaarnet/bazaar/node/config"
	"github.com/bazaarnet/bazaar/node/modules/dtypes"
	"github.com/bazaarnet/bazaar/node/modules/helpers"
	"github.com/bazaarnet/bazaar/node/repo"
)

func ListingStore(lc fx.Lifecycle, mctx helpers.MetricsCtx, cfg *config.BazaarNode, lr repo.LockedRepo, mds dtypes.MetadataDS) (listing.Store, error) {
	var s listing.Store

	switch cfg.Store.Backend {
	case config.StoreDatastore:
		s = dsstore.New(mds)
	case config.StoreSqlite:
		p := cfg.Store.SqlitePath
		if p == "" {
			p = sqlstore.DefaultDbFilename
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(lr.Path(), p)
		}

		ss, err := sqlstore.Open(mctx, p)
		if err != nil {
			return nil, err
		}
		log.Infow("using sqlite listing store", "path", p)
		s = ss
	default:
		return nil, xerrors.Errorf("unknown listing store backend %q", cfg.Store.Backend)
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error { return s.Close() },
	})
	return s, nil
}

func ContentStore(cfg *config.BazaarNode, mds dtypes.MetadataDS) (contentstore.Client, error) {
	var inner contentstore.Client

	switch cfg.ContentStore.Backend {
	case config.ContentLocal:
		inner = localstore.New(mds)
	case config.ContentIPFS:
		log.Infow("uploading metadata through ipfs", "api", cfg.ContentStore.APIAddress)
		inner = ipfshttp.New(cfg.ContentStore.APIAddress, time.Duration(cfg.ContentStore.Timeout))
	default:
		return nil, xerrors.Errorf("unknown content store backend %q", cfg.ContentStore.Backend)
	}

	if cfg.ContentStore.CacheSize <= 0 {
		return inner, nil
	}
	return contentstore.NewCached(inner, cfg.ContentStore.CacheSize)
}
