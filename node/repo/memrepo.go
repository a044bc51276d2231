package repo

import (
	"context"
	"os"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/bazaarnet/bazaar/node/config"
)

// MemRepo keeps every namespace in one in-memory datastore. Only the journal
// touches the filesystem, under Path.
type MemRepo struct {
	lk sync.Mutex

	locked bool
	// gen is bumped on every Lock so stale handles fail with ErrClosedRepo.
	gen uint64

	apiAddr string
	path    string

	ds  datastore.Batching
	cfg *config.BazaarNode
}

var _ Repo = (*MemRepo)(nil)

// MemRepoOptions contains options for memory repo
type MemRepoOptions struct {
	Ds     datastore.Batching
	Config *config.BazaarNode
	// Path is where the journal is written. When empty a temporary
	// directory is created on first use.
	Path string
}

// NewMemory creates a memory repo. opts and any of its fields may be nil.
func NewMemory(opts *MemRepoOptions) *MemRepo {
	if opts == nil {
		opts = &MemRepoOptions{}
	}

	mem := &MemRepo{
		ds:   opts.Ds,
		cfg:  opts.Config,
		path: opts.Path,
	}
	if mem.ds == nil {
		mem.ds = dssync.MutexWrap(datastore.NewMapDatastore())
	}
	if mem.cfg == nil {
		mem.cfg = config.DefaultNode()
	}
	return mem
}

func (mem *MemRepo) APIEndpoint() (string, error) {
	mem.lk.Lock()
	defer mem.lk.Unlock()

	if mem.apiAddr == "" {
		return "", ErrNoAPIEndpoint
	}
	return mem.apiAddr, nil
}

func (mem *MemRepo) Lock() (LockedRepo, error) {
	mem.lk.Lock()
	defer mem.lk.Unlock()

	if mem.locked {
		return nil, ErrRepoAlreadyLocked
	}
	mem.locked = true
	mem.gen++

	return &lockedMemRepo{mem: mem, gen: mem.gen}, nil
}

type lockedMemRepo struct {
	mem *MemRepo
	gen uint64
}

// with runs f under the repo lock if this handle is still the live one.
func (l *lockedMemRepo) with(f func(mem *MemRepo) error) error {
	l.mem.lk.Lock()
	defer l.mem.lk.Unlock()

	if !l.mem.locked || l.mem.gen != l.gen {
		return ErrClosedRepo
	}
	return f(l.mem)
}

func (l *lockedMemRepo) Close() error {
	return l.with(func(mem *MemRepo) error {
		mem.locked = false
		mem.apiAddr = ""
		return nil
	})
}

func (l *lockedMemRepo) Datastore(_ context.Context, ns string) (datastore.Batching, error) {
	var out datastore.Batching
	err := l.with(func(mem *MemRepo) error {
		out = namespace.Wrap(mem.ds, datastore.NewKey(ns))
		return nil
	})
	return out, err
}

func (l *lockedMemRepo) Config() (*config.BazaarNode, error) {
	var out *config.BazaarNode
	err := l.with(func(mem *MemRepo) error {
		out = mem.cfg
		return nil
	})
	return out, err
}

func (l *lockedMemRepo) SetConfig(c func(*config.BazaarNode)) error {
	return l.with(func(mem *MemRepo) error {
		c(mem.cfg)
		return nil
	})
}

func (l *lockedMemRepo) SetAPIEndpoint(addr string) error {
	return l.with(func(mem *MemRepo) error {
		mem.apiAddr = addr
		return nil
	})
}

func (l *lockedMemRepo) Path() string {
	l.mem.lk.Lock()
	defer l.mem.lk.Unlock()

	if l.mem.path == "" {
		p, err := os.MkdirTemp("", "bazaar-memrepo-")
		if err != nil {
			log.Errorw("creating memrepo directory", "error", err)
			return os.TempDir()
		}
		l.mem.path = p
	}
	return l.mem.path
}

func (l *lockedMemRepo) Readonly() bool {
	return false
}
