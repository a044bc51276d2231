package contentstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	lk    sync.Mutex
	puts  int
	fails int
}

func (s *countingStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.puts++
	if s.fails > 0 {
		s.fails--
		return cid.Undef, &UploadError{Err: errors.New("connection reset")}
	}
	return ComputeCID(data)
}

func TestCachedUploadsOnce(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{}
	cs, err := NewCached(inner, 16)
	require.NoError(t, err)

	c1, err := cs.Put(ctx, []byte("metadata"))
	require.NoError(t, err)
	c2, err := cs.Put(ctx, []byte("metadata"))
	require.NoError(t, err)

	require.Equal(t, c1, c2)
	require.Equal(t, 1, inner.puts)

	c3, err := cs.Put(ctx, []byte("other"))
	require.NoError(t, err)
	require.NotEqual(t, c1, c3)
	require.Equal(t, 2, inner.puts)
}

func TestCachedDoesNotRememberFailures(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{fails: 1}
	cs, err := NewCached(inner, 16)
	require.NoError(t, err)

	_, err = cs.Put(ctx, []byte("metadata"))
	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))

	c, err := cs.Put(ctx, []byte("metadata"))
	require.NoError(t, err)
	require.True(t, c.Defined())
	require.Equal(t, 2, inner.puts)
}

func TestComputeCIDPrefix(t *testing.T) {
	c, err := ComputeCID([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), c.Version())
	require.Equal(t, uint64(cid.DagCBOR), c.Type())
}
