package ledger

import (
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func testCid(t *testing.T, data string) cid.Cid {
	c, err := cid.Prefix{Version: 1, Codec: cid.DagCBOR, MhType: mh.SHA2_256, MhLength: -1}.Sum([]byte(data))
	require.NoError(t, err)
	return c
}

func TestDedupeKeyDeterministic(t *testing.T) {
	c1 := testCid(t, "one")
	c2 := testCid(t, "two")

	require.Equal(t, NewDedupeKey("lst_a", c1), NewDedupeKey("lst_a", c1))
	require.NotEqual(t, NewDedupeKey("lst_a", c1), NewDedupeKey("lst_a", c2))
	require.NotEqual(t, NewDedupeKey("lst_a", c1), NewDedupeKey("lst_b", c1))
	require.NotEmpty(t, NewDedupeKey("lst_a", c1))
}

func TestErrorClassification(t *testing.T) {
	rej := xerrors.Errorf("submit: %w", &RejectedError{Reason: "bad nonce"})
	require.True(t, IsRejected(rej))
	require.False(t, IsTransient(rej))

	unav := xerrors.Errorf("submit: %w", &UnavailableError{Reason: "dial tcp"})
	require.False(t, IsRejected(unav))
	require.True(t, IsTransient(unav))

	require.True(t, IsTransient(errors.New("something else")))
	require.False(t, IsTransient(nil))

	require.True(t, IsNotFound(&NotFoundError{Ref: "tx"}))
}

func TestErrorJSON(t *testing.T) {
	b, err := (&RejectedError{Reason: "dup"}).MarshalJSON()
	require.NoError(t, err)

	var out RejectedError
	require.NoError(t, out.UnmarshalJSON(b))
	require.Equal(t, "dup", out.Reason)
}
