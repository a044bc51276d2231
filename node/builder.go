package node

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/contentstore"
	"github.com/bazaarnet/bazaar/identity"
	"github.com/bazaarnet/bazaar/journal"
	"github.com/bazaarnet/bazaar/journal/alerting"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/ledger/ledgerrpc"
	"github.com/bazaarnet/bazaar/ledger/memledger"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/metrics"
	"github.com/bazaarnet/bazaar/node/config"
	"github.com/bazaarnet/bazaar/node/modules"
	"github.com/bazaarnet/bazaar/node/modules/dtypes"
	"github.com/bazaarnet/bazaar/node/modules/helpers"
	"github.com/bazaarnet/bazaar/node/repo"
	"github.com/bazaarnet/bazaar/publisher"
)

//nolint:deadcode,varcheck
var log = logging.Logger("builder")

// special is a type used to give keys to modules which
//
//	can't really be identified by the returned type
type special struct{ id int }

type invoke int

// Invokes are called in the order they are defined.
//
//nolint:golint
const (
	// InitJournalKey at position 0 opens the journal first, so it records
	// everything the other components do.
	InitJournalKey = invoke(iota)

	SetLogLevelsKey
	RunLedgerKey
	StartPublisherKey
	RunReconcilerKey

	SetAPIEndpointKey
	ExtractNodeKey

	_nInvokes // keep this last
)

type Settings struct {
	// modules is a map of constructors for DI
	//
	// In most cases the index will be a reflect. Type of element returned by
	// the constructor, but for some 'constructors' it's hard to specify what's
	// the return type should be (or the constructor returns fx group)
	modules map[interface{}]fx.Option

	// invokes are separate from modules as they can't be referenced by return
	// type, and must be applied in correct order
	invokes []fx.Option

	Config bool // Config option applied
}

// Node is the set of components a running daemon exposes to its HTTP API
// and commands.
type Node struct {
	Config     *config.BazaarNode
	Publisher  *publisher.Publisher
	Reconciler *publisher.Reconciler
	Store      listing.Store
	Pool       *identity.Pool
	Ledger     ledger.Client
	Info       ledger.Info
	Alerts     *alerting.Alerting
}

func defaults() []Option {
	return []Option{
		Override(new(helpers.MetricsCtx), func() context.Context {
			return metrics.Tagged(context.Background(), metrics.Version, build.UserVersion())
		}),

		Override(new(dtypes.ShutdownChan), make(chan struct{})),

		Override(new(journal.DisabledEvents), modules.JournalDisabledEvents),
		Override(new(journal.Journal), modules.OpenFilesystemJournal),
		Override(InitJournalKey, func(j journal.Journal) {}),

		Override(new(*alerting.Alerting), alerting.NewAlertingSystem),
	}
}

// Repo locks r for the node's lifetime and wires the storage it holds.
func Repo(r repo.Repo) Option {
	return func(settings *Settings) error {
		lr, err := r.Lock()
		if err != nil {
			return err
		}
		c, err := lr.Config()
		if err != nil {
			return err
		}

		return Options(
			Override(new(repo.LockedRepo), modules.LockedRepo(lr)), // module handles closing
			Override(new(dtypes.MetadataDS), modules.Datastore),
			Override(SetAPIEndpointKey, modules.SetAPIEndpoint),

			ConfigBazaar(c),
		)(settings)
	}
}

// ConfigBazaar wires the components selected by cfg.
func ConfigBazaar(cfg *config.BazaarNode) Option {
	return Options(
		func(s *Settings) error { s.Config = true; return nil },

		Override(new(*config.BazaarNode), cfg),
		Override(SetLogLevelsKey, modules.LogLevels),

		Override(new(listing.Store), modules.ListingStore),
		Override(new(contentstore.Client), modules.ContentStore),

		If(cfg.Ledger.Backend == config.LedgerMem,
			Override(new(*memledger.Ledger), modules.MemLedger),
			Override(new(ledger.Client), From(new(*memledger.Ledger))),
			Override(new(ledger.Info), modules.MemLedgerInfo),
			Override(RunLedgerKey, modules.RunMemLedger),
		),
		If(cfg.Ledger.Backend == config.LedgerRPC,
			Override(new(*ledgerrpc.Client), modules.RPCLedger),
			Override(new(ledger.Client), From(new(*ledgerrpc.Client))),
			Override(new(ledger.Info), modules.RPCLedgerInfo),
		),
		If(cfg.Ledger.Backend != config.LedgerMem && cfg.Ledger.Backend != config.LedgerRPC,
			Error(xerrors.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)),
		),

		Override(new(*identity.Pool), modules.IdentityPool),
		Override(new(*publisher.Publisher), modules.Publisher),
		Override(new(*publisher.Reconciler), modules.Reconciler),

		Override(StartPublisherKey, func(*publisher.Publisher) {}),
		Override(RunReconcilerKey, modules.RunReconciler),
	)
}

// Bazaar fills out with the node's components once it is built.
func Bazaar(out *Node) Option {
	return func(s *Settings) error {
		s.invokes[ExtractNodeKey] = fx.Invoke(func(
			cfg *config.BazaarNode,
			p *publisher.Publisher,
			r *publisher.Reconciler,
			store listing.Store,
			pool *identity.Pool,
			lc ledger.Client,
			info ledger.Info,
			alerts *alerting.Alerting,
		) {
			*out = Node{
				Config:     cfg,
				Publisher:  p,
				Reconciler: r,
				Store:      store,
				Pool:       pool,
				Ledger:     lc,
				Info:       info,
				Alerts:     alerts,
			}
		})
		return nil
	}
}

type StopFunc func(context.Context) error

// New builds and starts new bazaar node
func New(ctx context.Context, opts ...Option) (StopFunc, error) {
	settings := Settings{
		modules: map[interface{}]fx.Option{},
		invokes: make([]fx.Option, _nInvokes),
	}

	// apply module options in the right order
	if err := Options(Options(defaults()...), Options(opts...))(&settings); err != nil {
		return nil, xerrors.Errorf("applying node options failed: %w", err)
	}
	if !settings.Config {
		return nil, errors.New("node config not set, use Repo or ConfigBazaar")
	}

	// gather constructors for fx.Options
	ctors := make([]fx.Option, 0, len(settings.modules))
	for _, opt := range settings.modules {
		ctors = append(ctors, opt)
	}

	// fill holes in invokes for use in fx.Options
	for i, opt := range settings.invokes {
		if opt == nil {
			settings.invokes[i] = fx.Options()
		}
	}

	app := fx.New(
		fx.Options(ctors...),
		fx.Options(settings.invokes...),

		fx.NopLogger,
	)

	if err := app.Start(ctx); err != nil {
		// comment fx.NopLogger few lines above for easier debugging
		return nil, xerrors.Errorf("starting node: %w", err)
	}

	return app.Stop, nil
}
