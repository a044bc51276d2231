package repo

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/ipfs/go-datastore"
	levelds "github.com/ipfs/go-ds-leveldb"
	measure "github.com/ipfs/go-ds-measure"
	fslock "github.com/ipfs/go-fs-lock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	ldbopts "github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/node/config"
)

const (
	fsAPI       = "api"
	fsConfig    = "config.toml"
	fsDatastore = "datastore"
	fsLock      = "repo.lock"
)

var log = logging.Logger("repo")

var (
	ErrRepoExists = xerrors.New("repo exists")
	ErrReadonly   = xerrors.New("repo is locked read-only")
)

// FsRepo is struct for repo, use NewFS to create
type FsRepo struct {
	path       string
	configPath string
}

var _ Repo = &FsRepo{}

// NewFS creates a repo instance based on a path on file system
func NewFS(path string) (*FsRepo, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}

	return &FsRepo{
		path:       path,
		configPath: filepath.Join(path, fsConfig),
	}, nil
}

func (fsr *FsRepo) SetConfigPath(cfgPath string) {
	fsr.configPath = cfgPath
}

func (fsr *FsRepo) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(fsr.path, fsDatastore))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Init creates the repo directory layout and a commented default config.
// It returns ErrRepoExists if the repo was already initialized.
func (fsr *FsRepo) Init() error {
	exist, err := fsr.Exists()
	if err != nil {
		return err
	}
	if exist {
		return ErrRepoExists
	}

	log.Infof("Initializing repo at '%s'", fsr.path)
	err = os.MkdirAll(fsr.path, 0755) //nolint: gosec
	if err != nil && !os.IsExist(err) {
		return err
	}

	if err := fsr.initConfig(); err != nil {
		return xerrors.Errorf("init config: %w", err)
	}

	return os.Mkdir(filepath.Join(fsr.path, fsDatastore), 0755)
}

func (fsr *FsRepo) initConfig() error {
	_, err := os.Stat(fsr.configPath)
	if err == nil {
		// exists
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	c, err := os.Create(fsr.configPath)
	if err != nil {
		return err
	}

	comm, err := config.ConfigComment(config.DefaultNode())
	if err != nil {
		return xerrors.Errorf("comment: %w", err)
	}
	_, err = c.Write(comm)
	if err != nil {
		return xerrors.Errorf("write config: %w", err)
	}

	if err := c.Close(); err != nil {
		return xerrors.Errorf("close config: %w", err)
	}
	return nil
}

// APIEndpoint returns endpoint of API in this repo
func (fsr *FsRepo) APIEndpoint() (string, error) {
	b, err := os.ReadFile(filepath.Join(fsr.path, fsAPI))
	if os.IsNotExist(err) {
		return "", ErrNoAPIEndpoint
	} else if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Lock acquires exclusive lock on this repo
func (fsr *FsRepo) Lock() (LockedRepo, error) {
	locked, err := fslock.Locked(fsr.path, fsLock)
	if err != nil {
		return nil, xerrors.Errorf("could not check lock status: %w", err)
	}
	if locked {
		return nil, ErrRepoAlreadyLocked
	}

	closer, err := fslock.Lock(fsr.path, fsLock)
	if err != nil {
		return nil, xerrors.Errorf("could not lock the repo: %w", err)
	}
	return &fsLockedRepo{
		path:       fsr.path,
		configPath: fsr.configPath,
		closer:     closer,
		ds:         map[string]datastore.Batching{},
	}, nil
}

// Like Lock, except datastores will work in read-only mode
func (fsr *FsRepo) LockRO() (LockedRepo, error) {
	lr, err := fsr.Lock()
	if err != nil {
		return nil, err
	}

	lr.(*fsLockedRepo).readonly = true
	return lr, nil
}

type fsLockedRepo struct {
	path       string
	configPath string
	closer     io.Closer
	readonly   bool

	dsLk sync.Mutex
	ds   map[string]datastore.Batching

	configLk sync.Mutex
}

func (fsr *fsLockedRepo) Readonly() bool {
	return fsr.readonly
}

func (fsr *fsLockedRepo) Path() string {
	return fsr.path
}

func (fsr *fsLockedRepo) Close() error {
	if err := fsr.stillValid(); err != nil {
		return err
	}

	var err error
	if rerr := os.Remove(fsr.join(fsAPI)); rerr != nil && !os.IsNotExist(rerr) {
		err = multierr.Append(err, xerrors.Errorf("could not remove API file: %w", rerr))
	}

	fsr.dsLk.Lock()
	for ns, ds := range fsr.ds {
		if cerr := ds.Close(); cerr != nil {
			err = multierr.Append(err, xerrors.Errorf("could not close datastore %s: %w", ns, cerr))
		}
	}
	fsr.ds = nil
	fsr.dsLk.Unlock()

	err = multierr.Append(err, fsr.closer.Close())
	fsr.closer = nil
	return err
}

// Datastore opens the leveldb datastore for ns under the repo's datastore
// directory. Each namespace is opened once per lock.
func (fsr *fsLockedRepo) Datastore(_ context.Context, ns string) (datastore.Batching, error) {
	if err := fsr.stillValid(); err != nil {
		return nil, err
	}

	fsr.dsLk.Lock()
	defer fsr.dsLk.Unlock()

	if ds, ok := fsr.ds[ns]; ok {
		return ds, nil
	}

	name := strings.Trim(ns, "/")
	if name == "" || strings.Contains(name, "/") {
		return nil, xerrors.Errorf("invalid datastore namespace %q", ns)
	}

	p := fsr.join(fsDatastore, name)
	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, xerrors.Errorf("creating datastore directory %s: %w", p, err)
	}

	lds, err := levelds.NewDatastore(p, &levelds.Options{
		Compression: ldbopts.NoCompression,
		NoSync:      false,
		Strict:      ldbopts.StrictAll,
		ReadOnly:    fsr.readonly,
	})
	if err != nil {
		return nil, xerrors.Errorf("opening datastore %s: %w", ns, err)
	}

	// Keep statistics about the datastore
	ds := measure.New("fsrepo."+name, lds)

	fsr.ds[ns] = ds
	return ds, nil
}

func (fsr *fsLockedRepo) join(paths ...string) string {
	return filepath.Join(append([]string{fsr.path}, paths...)...)
}

func (fsr *fsLockedRepo) stillValid() error {
	if fsr.closer == nil {
		return ErrClosedRepo
	}
	return nil
}

func (fsr *fsLockedRepo) Config() (*config.BazaarNode, error) {
	fsr.configLk.Lock()
	defer fsr.configLk.Unlock()

	cfg, err := fsr.loadConfigFromDisk()
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fsr *fsLockedRepo) loadConfigFromDisk() (*config.BazaarNode, error) {
	c, err := config.FromFile(fsr.configPath, config.DefaultNode())
	if err != nil {
		return nil, err
	}
	cfg, ok := c.(*config.BazaarNode)
	if !ok {
		return nil, xerrors.Errorf("invalid config type %T", c)
	}
	return cfg, nil
}

func (fsr *fsLockedRepo) SetConfig(c func(*config.BazaarNode)) error {
	if err := fsr.stillValid(); err != nil {
		return err
	}
	if fsr.readonly {
		return ErrReadonly
	}

	fsr.configLk.Lock()
	defer fsr.configLk.Unlock()

	cfg, err := fsr.loadConfigFromDisk()
	if err != nil {
		return err
	}

	// mutate in-memory representation of config
	c(cfg)

	// buffer into which we write TOML bytes
	buf := new(bytes.Buffer)

	// encode now-mutated config as TOML and write to buffer
	err = toml.NewEncoder(buf).Encode(cfg)
	if err != nil {
		return err
	}

	// write buffer of TOML bytes to config file
	return os.WriteFile(fsr.configPath, buf.Bytes(), 0644)
}

func (fsr *fsLockedRepo) SetAPIEndpoint(addr string) error {
	if err := fsr.stillValid(); err != nil {
		return err
	}
	return os.WriteFile(fsr.join(fsAPI), []byte(addr), 0644)
}
