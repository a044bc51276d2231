// Package localstore keeps metadata blocks in a blockstore backed by the
// node's own datastore. It is used by the dev daemon and in tests.
package localstore

import (
	"context"

	"github.com/ipfs/boxo/blockstore"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/contentstore"
)

var log = logging.Logger("localstore")

var blocksPrefix = ds.NewKey("/metadata-blocks")

type Store struct {
	bs blockstore.Blockstore
}

var _ contentstore.Client = (*Store)(nil)

func New(d ds.Batching) *Store {
	return &Store{bs: blockstore.NewBlockstore(namespace.Wrap(d, blocksPrefix))}
}

func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := contentstore.ComputeCID(data)
	if err != nil {
		return cid.Undef, err
	}

	has, err := s.bs.Has(ctx, c)
	if err != nil {
		return cid.Undef, &contentstore.UploadError{Err: err}
	}
	if has {
		return c, nil
	}

	blk, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return cid.Undef, xerrors.Errorf("creating block: %w", err)
	}
	if err := s.bs.Put(ctx, blk); err != nil {
		return cid.Undef, &contentstore.UploadError{Err: err}
	}

	log.Debugw("stored metadata block", "cid", c, "size", len(data))
	return c, nil
}

// Get returns the stored bytes of c.
func (s *Store) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	blk, err := s.bs.Get(ctx, c)
	if err != nil {
		return nil, xerrors.Errorf("getting block %s: %w", c, err)
	}
	return blk.RawData(), nil
}
