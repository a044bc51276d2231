package repo

import (
	"context"
	"testing"

	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/node/config"
)

func basicTest(t *testing.T, repo Repo) {
	ctx := context.Background()

	_, err := repo.APIEndpoint()
	require.Equal(t, ErrNoAPIEndpoint, err)

	lrepo, err := repo.Lock()
	require.NoError(t, err, "should be able to lock once")
	require.NotNil(t, lrepo, "locked repo shouldn't be nil")

	{
		lrepo2, err := repo.Lock()
		require.Error(t, err, "should not be able to lock twice")
		require.Nil(t, lrepo2)
	}

	require.NoError(t, lrepo.SetAPIEndpoint("127.0.0.1:3000"))
	addr, err := repo.APIEndpoint()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:3000", addr)

	ds, err := lrepo.Datastore(ctx, "/metadata")
	require.NoError(t, err)
	require.NoError(t, ds.Put(ctx, datastore.NewKey("/k"), []byte("v")))
	v, err := ds.Get(ctx, datastore.NewKey("/k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	cfg, err := lrepo.Config()
	require.NoError(t, err)
	require.Equal(t, config.DefaultNode(), cfg)

	require.NoError(t, lrepo.SetConfig(func(c *config.BazaarNode) {
		c.Ledger.Backend = config.LedgerRPC
	}))
	cfg, err = lrepo.Config()
	require.NoError(t, err)
	require.Equal(t, config.LedgerRPC, cfg.Ledger.Backend)

	require.NoError(t, lrepo.Close(), "should be able to unlock")
	require.Equal(t, ErrClosedRepo, lrepo.Close())

	_, err = repo.APIEndpoint()
	require.Equal(t, ErrNoAPIEndpoint, err, "API endpoint is removed on close")

	lrepo, err = repo.Lock()
	require.NoError(t, err, "should be able to relock")
	require.NoError(t, lrepo.Close())
}

func TestMemBasic(t *testing.T) {
	repo := NewMemory(&MemRepoOptions{Path: t.TempDir()})
	basicTest(t, repo)
}
