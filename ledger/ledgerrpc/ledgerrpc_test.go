package ledgerrpc

import (
	"context"
	"net/http/httptest"
	"testing"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/ledger/memledger"
)

func init() {
	_ = logging.SetLogLevel("*", "INFO")
}

type testSigner struct {
	addr string
	seq  uint64
}

func (s *testSigner) Address() string  { return s.addr }
func (s *testSigner) Sequence() uint64 { return s.seq }
func (s *testSigner) Advance(context.Context) error {
	s.seq++
	return nil
}

func setup(t *testing.T) (*memledger.Ledger, *Client) {
	ml := memledger.New(ledger.Info{Network: "devnet", ContractAddress: "0xregistry"}, 1)
	srv := httptest.NewServer(Handler(ml))
	t.Cleanup(srv.Close)

	c, closer, err := NewClient(context.Background(), srv.URL+"/rpc/v0", nil)
	require.NoError(t, err)
	t.Cleanup(closer)
	return ml, c
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	ml, c := setup(t)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, "0xregistry", info.ContractAddress)

	_, found, err := c.FindByDedupeKey(ctx, "k1")
	require.NoError(t, err)
	require.False(t, found)

	s := &testSigner{addr: "0xaaa"}
	ref, err := c.Submit(ctx, "k1", s, ledger.Registration{ListingID: "L1", PriceMinorUnits: 100, Currency: "ETH"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.seq)

	got, found, err := c.FindByDedupeKey(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ref, got)

	ml.Mine()
	st, err := c.GetStatus(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, ledger.TxConfirmed, st.State)
	require.Equal(t, uint64(1), st.BlockNumber)

	n, err := c.NextSequence(ctx, "0xaaa")
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestErrorsSurviveTheWire(t *testing.T) {
	ctx := context.Background()
	ml, c := setup(t)

	// wrong sequence
	_, err := c.Submit(ctx, "k1", &testSigner{addr: "0xaaa", seq: 5}, ledger.Registration{})
	require.True(t, ledger.IsRejected(err), "got %v", err)

	ml.FailSubmits(1, &ledger.UnavailableError{Reason: "node syncing"})
	s := &testSigner{addr: "0xaaa"}
	_, err = c.Submit(ctx, "k1", s, ledger.Registration{})
	require.False(t, ledger.IsRejected(err))
	require.True(t, ledger.IsTransient(err))
	require.Zero(t, s.seq)

	_, err = c.GetStatus(ctx, "tx404")
	require.True(t, ledger.IsNotFound(err), "got %v", err)
}

func TestVersion(t *testing.T) {
	_, c := setup(t)
	v, err := c.api.Version(context.Background())
	require.NoError(t, err)

	want, err := build.VersionForAPI(build.APILedger)
	require.NoError(t, err)
	require.Equal(t, want, v)

	require.NoError(t, c.CheckVersion(context.Background()))
}
