package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/listing/storetest"
)

func init() {
	_ = logging.SetLogLevel("*", "INFO")
}

func TestSqliteStore(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) listing.Store {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), DefaultDbFilename))
		require.NoError(t, err)
		return s
	})
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DefaultDbFilename)

	s, err := Open(ctx, path)
	require.NoError(t, err)
	l := listing.New(listing.Draft{SellerID: "seller-1", Name: "Desk"}, time.Now())
	require.NoError(t, s.Create(ctx, l))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	got, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "Desk", got.Name)
	require.Equal(t, uint64(1), got.Version)
}
