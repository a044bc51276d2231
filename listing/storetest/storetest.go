// Package storetest is a conformance suite run against every listing.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bazaarnet/bazaar/contentstore"
	"github.com/bazaarnet/bazaar/listing"
)

func TestStore(t *testing.T, mk func(t *testing.T) listing.Store) {
	t.Run("create and get", func(t *testing.T) { testCreateGet(t, mk(t)) })
	t.Run("update cas", func(t *testing.T) { testUpdateCAS(t, mk(t)) })
	t.Run("invariants", func(t *testing.T) { testInvariants(t, mk(t)) })
	t.Run("concurrent transition", func(t *testing.T) { testConcurrentTransition(t, mk(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, mk(t)) })
	t.Run("list", func(t *testing.T) { testList(t, mk(t)) })
	t.Run("mutate", func(t *testing.T) { testMutate(t, mk(t)) })
}

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newDraft(seller string) *listing.Listing {
	return listing.New(listing.Draft{
		SellerID:        seller,
		Name:            "Vintage camera",
		Description:     "Working condition",
		Category:        "electronics",
		Images:          []string{"ipfs://cam1", "ipfs://cam2"},
		PriceMinorUnits: 250000,
		Stock:           1,
	}, now)
}

func metaCid(t *testing.T, l *listing.Listing) cid.Cid {
	b, err := l.MetadataBytes()
	require.NoError(t, err)
	c, err := contentstore.ComputeCID(b)
	require.NoError(t, err)
	return c
}

func testCreateGet(t *testing.T, s listing.Store) {
	defer s.Close() //nolint:errcheck
	ctx := context.Background()

	_, err := s.Get(ctx, "lst_missing")
	require.ErrorIs(t, err, listing.ErrNotFound)

	l := newDraft("seller-1")
	require.NoError(t, s.Create(ctx, l))
	require.Equal(t, uint64(1), l.Version)

	require.ErrorIs(t, s.Create(ctx, l.Clone()), listing.ErrAlreadyExists)

	got, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, l.ID, got.ID)
	require.Equal(t, l.SellerID, got.SellerID)
	require.Equal(t, l.Images, got.Images)
	require.Equal(t, listing.StatusDraft, got.Status)
	require.Equal(t, uint64(1), got.Version)
	require.False(t, got.MetadataCID.Defined())
	require.Nil(t, got.LedgerRecord)
	require.True(t, l.CreatedAt.Equal(got.CreatedAt))
}

func testUpdateCAS(t *testing.T, s listing.Store) {
	defer s.Close() //nolint:errcheck
	ctx := context.Background()

	l := newDraft("seller-1")
	require.NoError(t, s.Create(ctx, l))

	a, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	b, err := s.Get(ctx, l.ID)
	require.NoError(t, err)

	a.Name = "Camera (boxed)"
	require.NoError(t, s.Update(ctx, a))
	require.Equal(t, uint64(2), a.Version)

	b.Name = "Camera (lens only)"
	require.ErrorIs(t, s.Update(ctx, b), listing.ErrVersionConflict)

	got, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "Camera (boxed)", got.Name)
	require.Equal(t, uint64(2), got.Version)

	missing := newDraft("seller-1")
	missing.Version = 1
	require.ErrorIs(t, s.Update(ctx, missing), listing.ErrNotFound)
}

func testInvariants(t *testing.T, s listing.Store) {
	defer s.Close() //nolint:errcheck
	ctx := context.Background()

	l := newDraft("seller-1")
	require.NoError(t, s.Create(ctx, l))

	bad := l.Clone()
	bad.Status = listing.StatusPublished
	require.ErrorIs(t, s.Update(ctx, bad), listing.ErrInvalidUpdate)

	l.Status = listing.StatusPublishing
	l.Stage = listing.StageSubmittingTx
	l.MetadataCID = metaCid(t, l)
	require.NoError(t, s.Update(ctx, l))

	bad = l.Clone()
	bad.MetadataCID = metaCid(t, newDraft("seller-2"))
	require.ErrorIs(t, s.Update(ctx, bad), listing.ErrInvalidUpdate)

	l.Status = listing.StatusPublished
	l.Stage = listing.StageNone
	l.LedgerRecord = &listing.LedgerRecord{Network: "devnet", ContractAddress: "0xregistry", TxRef: "tx1", BlockNumber: 42}
	require.NoError(t, s.Update(ctx, l))

	got, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublished, got.Status)
	require.Equal(t, l.MetadataCID, got.MetadataCID)
	require.Equal(t, *l.LedgerRecord, *got.LedgerRecord)

	bad = got.Clone()
	bad.LedgerRecord = &listing.LedgerRecord{Network: "devnet", TxRef: "tx2", BlockNumber: 50}
	require.ErrorIs(t, s.Update(ctx, bad), listing.ErrInvalidUpdate)
}

func testConcurrentTransition(t *testing.T, s listing.Store) {
	defer s.Close() //nolint:errcheck
	ctx := context.Background()

	l := newDraft("seller-1")
	require.NoError(t, s.Create(ctx, l))

	const n = 8
	var (
		lk        sync.Mutex
		wins      int
		conflicts int
	)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			mine := l.Clone()
			mine.Status = listing.StatusPublishing
			mine.Stage = listing.StageUploadingMetadata
			err := s.Update(ctx, mine)

			lk.Lock()
			defer lk.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, listing.ErrVersionConflict):
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.Equal(t, 1, wins)
	require.Equal(t, n-1, conflicts)
}

func testDelete(t *testing.T, s listing.Store) {
	defer s.Close() //nolint:errcheck
	ctx := context.Background()

	l := newDraft("seller-1")
	require.NoError(t, s.Create(ctx, l))

	require.ErrorIs(t, s.Delete(ctx, l.ID, l.Version+1), listing.ErrVersionConflict)
	require.NoError(t, s.Delete(ctx, l.ID, l.Version))
	_, err := s.Get(ctx, l.ID)
	require.ErrorIs(t, err, listing.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, l.ID, 1), listing.ErrNotFound)

	p := newDraft("seller-1")
	require.NoError(t, s.Create(ctx, p))
	p.Status = listing.StatusPublishing
	p.Stage = listing.StageUploadingMetadata
	require.NoError(t, s.Update(ctx, p))
	require.ErrorIs(t, s.Delete(ctx, p.ID, p.Version), listing.ErrInvalidUpdate)
}

func testList(t *testing.T, s listing.Store) {
	defer s.Close() //nolint:errcheck
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		seller := "seller-a"
		if i%2 == 1 {
			seller = "seller-b"
		}
		l := newDraft(seller)
		require.NoError(t, s.Create(ctx, l))
		ids = append(ids, l.ID)
		if i < 2 {
			l.Status = listing.StatusPublishing
			l.Stage = listing.StageAwaitingConfirmation
			require.NoError(t, s.Update(ctx, l))
		}
	}

	all, err := s.List(ctx, listing.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)

	pub, err := s.List(ctx, listing.Filter{Statuses: []listing.Status{listing.StatusPublishing}, Stage: listing.StageAwaitingConfirmation})
	require.NoError(t, err)
	require.Len(t, pub, 2)
	require.ElementsMatch(t, ids[:2], []string{pub[0].ID, pub[1].ID})

	bs, err := s.List(ctx, listing.Filter{SellerID: "seller-b"})
	require.NoError(t, err)
	require.Len(t, bs, 2)

	lim, err := s.List(ctx, listing.Filter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, lim, 3)
}

func testMutate(t *testing.T, s listing.Store) {
	defer s.Close() //nolint:errcheck
	ctx := context.Background()

	l := newDraft("seller-1")
	require.NoError(t, s.Create(ctx, l))

	var eg errgroup.Group
	for i := 0; i < 4; i++ {
		eg.Go(func() error {
			_, err := listing.Mutate(ctx, s, l.ID, func(l *listing.Listing) error {
				l.Stock++
				return nil
			})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	got, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Stock)
	require.Equal(t, uint64(5), got.Version)

	same, err := listing.Mutate(ctx, s, l.ID, func(*listing.Listing) error { return listing.ErrNoChange })
	require.NoError(t, err)
	require.Equal(t, uint64(5), same.Version)
}
