package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	ds "github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/contentstore"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/ledger/mockledger"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/listing/dsstore"
)

func mockClock(t *testing.T) *clock.Mock {
	mc := clock.NewMock()
	mc.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	prev := build.Clock
	build.Clock = mc
	t.Cleanup(func() { build.Clock = prev })
	return mc
}

// awaiting stores a listing whose saga submitted ref and stopped waiting.
func awaiting(t *testing.T, s listing.Store, id string, ref ledger.TxRef) *listing.Listing {
	ctx := context.Background()

	l := listing.New(listing.Draft{SellerID: "seller-1", Name: id, Images: []string{"ipfs://x.png"}, PriceMinorUnits: 100, Stock: 1}, build.Clock.Now())
	l.ID = id
	require.NoError(t, s.Create(ctx, l))

	next := l.Clone()
	next.Status = listing.StatusPublishing
	next.Stage = listing.StageUploadingMetadata
	require.NoError(t, s.Update(ctx, next))

	b, err := next.MetadataBytes()
	require.NoError(t, err)
	c, err := contentstore.ComputeCID(b)
	require.NoError(t, err)

	next = next.Clone()
	next.MetadataCID = c
	next.DedupeKey = ledger.NewDedupeKey(id, c)
	next.Stage = listing.StageAwaitingConfirmation
	next.TxRef = ref
	next.SubmittedAt = build.Clock.Now()
	require.NoError(t, s.Update(ctx, next))
	return next
}

func TestReconcilerPass(t *testing.T) {
	mc := mockClock(t)
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	lc := mockledger.NewMockClient(ctrl)

	store := dsstore.New(ds_sync.MutexWrap(ds.NewMapDatastore()))
	p := New(testConfig(), store, nil, lc, testInfo, nil, nil, nil)
	t.Cleanup(func() { require.NoError(t, p.Stop(ctx)) })

	confirmed := awaiting(t, store, "confirmed", "tx1")
	pending := awaiting(t, store, "pending", "tx2")
	failed := awaiting(t, store, "failed", "tx3")
	lost := awaiting(t, store, "lost", "tx4")

	r := NewReconciler(p, ReconcilerConfig{
		Interval:             time.Minute,
		ConfirmationDeadline: 10 * time.Minute,
		RetryThreshold:       time.Hour,
	})

	// nothing is overdue yet, so the ledger is not asked
	st, err := r.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, ReconcileStats{}, st)

	mc.Add(15 * time.Minute)

	lc.EXPECT().FindByDedupeKey(gomock.Any(), confirmed.DedupeKey).Return(ledger.TxRef("tx1"), true, nil)
	lc.EXPECT().GetStatus(gomock.Any(), ledger.TxRef("tx1")).Return(ledger.TxStatus{State: ledger.TxConfirmed, BlockNumber: 42}, nil)
	lc.EXPECT().FindByDedupeKey(gomock.Any(), pending.DedupeKey).Return(ledger.TxRef("tx2"), true, nil)
	lc.EXPECT().GetStatus(gomock.Any(), ledger.TxRef("tx2")).Return(ledger.TxStatus{State: ledger.TxPending}, nil)
	lc.EXPECT().FindByDedupeKey(gomock.Any(), failed.DedupeKey).Return(ledger.TxRef("tx3"), true, nil)
	lc.EXPECT().GetStatus(gomock.Any(), ledger.TxRef("tx3")).Return(ledger.TxStatus{State: ledger.TxFailed, Reason: "reverted"}, nil)
	lc.EXPECT().FindByDedupeKey(gomock.Any(), lost.DedupeKey).Return(ledger.TxRef(""), false, nil)

	st, err = r.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, ReconcileStats{Examined: 4, Published: 1, Failed: 1, Pending: 2}, st)

	out, err := store.Get(ctx, "confirmed")
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublished, out.Status)
	require.Equal(t, &listing.LedgerRecord{
		Network:         testInfo.Network,
		ContractAddress: testInfo.ContractAddress,
		TxRef:           "tx1",
		BlockNumber:     42,
	}, out.LedgerRecord)

	out, err = store.Get(ctx, "failed")
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublishFailed, out.Status)
	require.Equal(t, listing.ReasonLedgerSubmissionRejected, out.PublishAttempt.Reason)
	require.Contains(t, out.PublishAttempt.LastError, "reverted")

	out, err = store.Get(ctx, "lost")
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublishing, out.Status)

	// past the retry threshold an unknown transaction is given up on
	mc.Add(time.Hour)

	lc.EXPECT().FindByDedupeKey(gomock.Any(), pending.DedupeKey).Return(ledger.TxRef("tx2"), true, nil)
	lc.EXPECT().GetStatus(gomock.Any(), ledger.TxRef("tx2")).Return(ledger.TxStatus{State: ledger.TxPending}, nil)
	lc.EXPECT().FindByDedupeKey(gomock.Any(), lost.DedupeKey).Return(ledger.TxRef(""), false, nil)

	st, err = r.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, ReconcileStats{Examined: 2, Failed: 1, Pending: 1}, st)

	out, err = store.Get(ctx, "lost")
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublishFailed, out.Status)
	require.Equal(t, listing.ReasonConfirmationTimeout, out.PublishAttempt.Reason)

	out, err = store.Get(ctx, "pending")
	require.NoError(t, err)
	require.Equal(t, listing.StageAwaitingConfirmation, out.Stage)
}

func TestReconcilerLedgerErrors(t *testing.T) {
	mc := mockClock(t)
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	lc := mockledger.NewMockClient(ctrl)

	store := dsstore.New(ds_sync.MutexWrap(ds.NewMapDatastore()))
	p := New(testConfig(), store, nil, lc, testInfo, nil, nil, nil)
	t.Cleanup(func() { require.NoError(t, p.Stop(ctx)) })

	a := awaiting(t, store, "a", "tx1")
	b := awaiting(t, store, "b", "tx2")
	mc.Add(2 * time.Hour)

	lc.EXPECT().FindByDedupeKey(gomock.Any(), a.DedupeKey).Return(ledger.TxRef(""), false, &ledger.UnavailableError{Reason: "rpc down"})
	// a transaction the ledger dropped counts as missing
	lc.EXPECT().FindByDedupeKey(gomock.Any(), b.DedupeKey).Return(ledger.TxRef("tx2"), true, nil)
	lc.EXPECT().GetStatus(gomock.Any(), ledger.TxRef("tx2")).Return(ledger.TxStatus{}, &ledger.NotFoundError{Ref: "tx2"})

	r := NewReconciler(p, ReconcilerConfig{Interval: time.Minute, ConfirmationDeadline: time.Minute, RetryThreshold: time.Hour})
	st, err := r.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, ReconcileStats{Examined: 2, Failed: 1, Errors: 1}, st)

	out, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublishing, out.Status)

	out, err = store.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, listing.ReasonConfirmationTimeout, out.PublishAttempt.Reason)
}
