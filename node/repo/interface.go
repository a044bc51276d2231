package repo

import (
	"context"

	"github.com/ipfs/go-datastore"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/node/config"
)

var (
	ErrNoAPIEndpoint     = xerrors.New("no API Endpoint set")
	ErrRepoAlreadyLocked = xerrors.New("repo is already locked")
	ErrClosedRepo        = xerrors.New("repo is no longer open")
)

type Repo interface {
	// APIEndpoint returns the address the daemon's HTTP API listens on
	APIEndpoint() (string, error)

	// Lock locks the repo for exclusive use.
	Lock() (LockedRepo, error)
}

type LockedRepo interface {
	// Close closes repo and removes lock.
	Close() error

	// Datastore returns the datastore mounted at namespace ns, e.g.
	// "/metadata".
	Datastore(ctx context.Context, ns string) (datastore.Batching, error)

	// Returns config in this repo
	Config() (*config.BazaarNode, error)
	SetConfig(func(*config.BazaarNode)) error

	SetAPIEndpoint(string) error

	// Path returns absolute path of the repo
	Path() string

	// Readonly returns true if the repo is readonly
	Readonly() bool
}
