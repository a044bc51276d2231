package modules

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/journal"
	"github.com/bazaarnet/bazaar/journal/fsjournal"
	"github.com/bazaarnet/bazaar/lib/bazaarlog"
	"github.com/bazaarnet/bazaar/node/config"
	"github.com/bazaarnet/bazaar/node/modules/dtypes"
	"github.com/bazaarnet/bazaar/node/modules/helpers"
	"github.com/bazaarnet/bazaar/node/repo"
)

var log = logging.Logger("modules")

func LockedRepo(lr repo.LockedRepo) func(lc fx.Lifecycle) repo.LockedRepo {
	return func(lc fx.Lifecycle) repo.LockedRepo {
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return lr.Close()
			},
		})

		return lr
	}
}

func Datastore(lc fx.Lifecycle, mctx helpers.MetricsCtx, r repo.LockedRepo) (dtypes.MetadataDS, error) {
	ctx := helpers.LifecycleCtx(mctx, lc)
	mds, err := r.Datastore(ctx, "/metadata")
	if err != nil {
		return nil, xerrors.Errorf("opening metadata datastore: %w", err)
	}
	return mds, nil
}

// SetAPIEndpoint records the configured listen address in the repo so other
// processes can find the daemon.
func SetAPIEndpoint(cfg *config.BazaarNode, lr repo.LockedRepo) error {
	return lr.SetAPIEndpoint(cfg.API.ListenAddress)
}

// LogLevels applies the per-subsystem levels from the config.
func LogLevels(cfg *config.BazaarNode) error {
	if err := bazaarlog.ApplySubsystemLevels(cfg.Logging.SubsystemLevels); err != nil {
		return xerrors.Errorf("setting log levels: %w", err)
	}
	return nil
}

// JournalDisabledEvents prefers the configured list and falls back to the
// environment.
func JournalDisabledEvents(cfg *config.BazaarNode) (journal.DisabledEvents, error) {
	if cfg.Journal.DisabledEvents == "" {
		return journal.EnvDisabledEvents(), nil
	}
	return journal.ParseDisabledEvents(cfg.Journal.DisabledEvents)
}

func OpenFilesystemJournal(lr repo.LockedRepo, lc fx.Lifecycle, cfg *config.BazaarNode, disabled journal.DisabledEvents) (journal.Journal, error) {
	jrnl, err := fsjournal.OpenFSJournal(lr.Path(), disabled, fsjournal.Options{
		MaxSize:    cfg.Journal.MaxSize,
		MaxBackups: cfg.Journal.MaxBackups,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error { return jrnl.Close() },
	})

	return jrnl, err
}

// background runs f until the lifecycle stops, and waits for it to return on
// stop.
func background(mctx helpers.MetricsCtx, lc fx.Lifecycle, f func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(mctx)
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				f(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
