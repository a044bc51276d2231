package listing

import (
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func testCid(t *testing.T) cid.Cid {
	c, err := cid.Prefix{Version: 1, Codec: cid.DagCBOR, MhType: mh.SHA2_256, MhLength: -1}.Sum([]byte("meta"))
	require.NoError(t, err)
	return c
}

func draftListing() *Listing {
	return New(Draft{SellerID: "seller-1", Name: "Lamp", Images: []string{"ipfs://lamp.png"}, PriceMinorUnits: 1500, Stock: 3}, time.Unix(1700000000, 0))
}

func TestNewDefaults(t *testing.T) {
	l := draftListing()
	require.Equal(t, StatusDraft, l.Status)
	require.Equal(t, DefaultCurrency, l.Currency)
	require.Len(t, l.ID, len("lst_")+32)
	require.False(t, l.MetadataCID.Defined())
	require.NoError(t, Check(l))
}

func TestCheckUpdateTransitions(t *testing.T) {
	c := testCid(t)

	prev := draftListing()
	next := prev.Clone()
	next.Status = StatusPublished
	require.ErrorIs(t, CheckUpdate(prev, next), ErrInvalidUpdate)

	next = prev.Clone()
	next.Status = StatusPublishing
	next.Stage = StageUploadingMetadata
	require.NoError(t, CheckUpdate(prev, next))

	// publishing without a stage
	bad := next.Clone()
	bad.Stage = StageNone
	require.ErrorIs(t, CheckUpdate(prev, bad), ErrInvalidUpdate)

	prev = next
	next = prev.Clone()
	next.MetadataCID = c
	next.Stage = StageSubmittingTx
	require.NoError(t, CheckUpdate(prev, next))

	// published needs a ledger record
	prev = next
	next = prev.Clone()
	next.Status = StatusPublished
	next.Stage = StageNone
	require.ErrorIs(t, CheckUpdate(prev, next), ErrInvalidUpdate)

	next.LedgerRecord = &LedgerRecord{Network: "dev", TxRef: "tx1", BlockNumber: 42}
	require.NoError(t, CheckUpdate(prev, next))

	prev = next
	next = prev.Clone()
	next.LedgerRecord.BlockNumber = 43
	require.ErrorIs(t, CheckUpdate(prev, next), ErrInvalidUpdate)

	next = prev.Clone()
	next.Status = StatusDraft
	require.ErrorIs(t, CheckUpdate(prev, next), ErrInvalidUpdate)

	next = prev.Clone()
	next.Status = StatusArchived
	require.NoError(t, CheckUpdate(prev, next))
}

func TestCheckUpdateImmutableFields(t *testing.T) {
	prev := draftListing()

	next := prev.Clone()
	next.SellerID = "seller-2"
	require.ErrorIs(t, CheckUpdate(prev, next), ErrInvalidUpdate)

	next = prev.Clone()
	next.Name = "Better lamp"
	require.NoError(t, CheckUpdate(prev, next))

	prev.Status = StatusPublishFailed
	prev.MetadataCID = testCid(t)
	next = prev.Clone()
	next.Name = "Better lamp"
	require.ErrorIs(t, CheckUpdate(prev, next), ErrInvalidUpdate)

	next = prev.Clone()
	next.MetadataCID = cid.Undef
	require.ErrorIs(t, CheckUpdate(prev, next), ErrInvalidUpdate)
}

func TestMetadataDeterministic(t *testing.T) {
	l := draftListing()
	b1, err := l.MetadataBytes()
	require.NoError(t, err)

	l2 := l.Clone()
	l2.Version = 7
	l2.Status = StatusPublishFailed
	b2, err := l2.MetadataBytes()
	require.NoError(t, err)
	require.Equal(t, b1, b2)

	l2.PriceMinorUnits++
	b3, err := l2.MetadataBytes()
	require.NoError(t, err)
	require.NotEqual(t, b1, b3)

	m, err := DecodeMetadata(b1)
	require.NoError(t, err)
	require.Equal(t, l.Metadata(), m)
}

func TestFilterMatch(t *testing.T) {
	l := draftListing()
	require.True(t, Filter{}.Match(l))
	require.True(t, Filter{Statuses: []Status{StatusDraft, StatusPublished}}.Match(l))
	require.False(t, Filter{Statuses: []Status{StatusPublished}}.Match(l))
	require.False(t, Filter{SellerID: "other"}.Match(l))
	require.False(t, Filter{Stage: StageSubmittingTx}.Match(l))
}
