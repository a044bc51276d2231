package localstore

import (
	"context"
	"testing"

	ds "github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/contentstore"
)

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(ds_sync.MutexWrap(ds.NewMapDatastore()))

	data := []byte("\xa1dnamegWidget")
	c1, err := s.Put(ctx, data)
	require.NoError(t, err)
	c2, err := s.Put(ctx, data)
	require.NoError(t, err)
	require.Equal(t, c1, c2)

	want, err := contentstore.ComputeCID(data)
	require.NoError(t, err)
	require.Equal(t, want, c1)

	got, err := s.Get(ctx, c1)
	require.NoError(t, err)
	require.Equal(t, data, got)
}
