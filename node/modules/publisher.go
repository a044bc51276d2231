package modules

import (
	"context"

	"go.uber.org/fx"

	"github.com/bazaarnet/bazaar/contentstore"
	"github.com/bazaarnet/bazaar/identity"
	"github.com/bazaarnet/bazaar/journal"
	"github.com/bazaarnet/bazaar/journal/alerting"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/node/config"
	"github.com/bazaarnet/bazaar/node/modules/helpers"
	"github.com/bazaarnet/bazaar/publisher"
)

type PublisherParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.BazaarNode
	Store     listing.Store
	Content   contentstore.Client
	Ledger    ledger.Client
	Info      ledger.Info
	Pool      *identity.Pool
	Journal   journal.Journal
	Alerts    *alerting.Alerting
}

// Publisher resumes every listing left in publishing on start and stops the
// running sagas on shutdown.
func Publisher(params PublisherParams) *publisher.Publisher {
	p := publisher.New(
		params.Config.Publisher.PublisherConfig(),
		params.Store,
		params.Content,
		params.Ledger,
		params.Info,
		params.Pool,
		params.Journal,
		params.Alerts,
	)

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Restart(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return p.Stop(ctx)
		},
	})
	return p
}

func Reconciler(cfg *config.BazaarNode, p *publisher.Publisher) *publisher.Reconciler {
	return publisher.NewReconciler(p, cfg.Reconciler.ReconcilerConfig())
}

func RunReconciler(mctx helpers.MetricsCtx, lc fx.Lifecycle, r *publisher.Reconciler) {
	background(mctx, lc, r.Run)
}
