package contentstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"
)

// Cached remembers CIDs of bytes already stored so identical content is
// uploaded once per process.
type Cached struct {
	inner Client
	seen  *lru.Cache[cid.Cid, struct{}]
}

var _ Client = (*Cached)(nil)

func NewCached(inner Client, size int) (*Cached, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[cid.Cid, struct{}](size)
	if err != nil {
		return nil, xerrors.Errorf("creating cid cache: %w", err)
	}
	return &Cached{inner: inner, seen: c}, nil
}

func (c *Cached) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	want, err := ComputeCID(data)
	if err != nil {
		return cid.Undef, err
	}
	if c.seen.Contains(want) {
		return want, nil
	}

	got, err := c.inner.Put(ctx, data)
	if err != nil {
		return cid.Undef, err
	}
	if !got.Equals(want) {
		return cid.Undef, xerrors.Errorf("content store returned %s, expected %s", got, want)
	}
	c.seen.Add(got, struct{}{})
	return got, nil
}
