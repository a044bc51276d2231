package repo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/node/config"
)

func genFsRepo(t *testing.T) *FsRepo {
	repo, err := NewFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, repo.Init())
	require.Equal(t, ErrRepoExists, repo.Init())
	return repo
}

func TestFsBasic(t *testing.T) {
	repo := genFsRepo(t)
	basicTest(t, repo)
}

func TestFsReadonlyConfig(t *testing.T) {
	repo := genFsRepo(t)
	t.Setenv("BAZAAR_LEDGER_NETWORK", "testnet")

	lr, err := repo.LockRO()
	require.NoError(t, err)
	require.True(t, lr.Readonly())

	cfg, err := lr.Config()
	require.NoError(t, err)
	require.Equal(t, "testnet", cfg.Ledger.Network)
	require.Error(t, lr.SetConfig(func(*config.BazaarNode) {}))
	require.NoError(t, lr.Close())
}
