package ledgerrpc

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/ledger"
)

var log = logging.Logger("ledgerrpc")

// Client is a ledger.Client talking to a remote ledger over JSON-RPC.
type Client struct {
	api API
}

var _ ledger.Client = (*Client)(nil)

// NewAPIClient creates a raw http jsonrpc client.
func NewAPIClient(ctx context.Context, addr string, requestHeader http.Header, opts ...jsonrpc.Option) (API, jsonrpc.ClientCloser, error) {
	var res APIStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, Namespace,
		[]interface{}{
			&res.Internal,
		},
		requestHeader,
		append([]jsonrpc.Option{jsonrpc.WithErrors(RPCErrors)}, opts...)...,
	)
	return &res, closer, err
}

func NewClient(ctx context.Context, addr string, requestHeader http.Header) (*Client, jsonrpc.ClientCloser, error) {
	a, closer, err := NewAPIClient(ctx, addr, requestHeader)
	if err != nil {
		return nil, nil, xerrors.Errorf("creating ledger rpc client: %w", err)
	}
	return &Client{api: a}, closer, nil
}

// CheckVersion fails when the remote ledger speaks an incompatible API.
func (c *Client) CheckVersion(ctx context.Context) error {
	remote, err := c.api.Version(ctx)
	if err != nil {
		return xerrors.Errorf("getting ledger api version: %w", err)
	}
	if !remote.Compatible(build.LedgerAPIVersion) {
		return xerrors.Errorf("ledger api version %s is incompatible with %s", remote, build.LedgerAPIVersion)
	}
	return nil
}

func (c *Client) Info(ctx context.Context) (ledger.Info, error) {
	return c.api.Info(ctx)
}

func (c *Client) Submit(ctx context.Context, key ledger.DedupeKey, signer ledger.Signer, payload ledger.Registration) (ledger.TxRef, error) {
	ref, err := c.api.SubmitSigned(ctx, key, signer.Address(), signer.Sequence(), payload)
	if err != nil {
		if ledger.IsRejected(err) {
			return "", err
		}
		var unav *ledger.UnavailableError
		if xerrors.As(err, &unav) {
			return "", err
		}
		return "", &ledger.UnavailableError{Reason: err.Error()}
	}

	if err := signer.Advance(ctx); err != nil {
		log.Errorw("advancing signer sequence", "address", signer.Address(), "tx", ref, "error", err)
	}
	return ref, nil
}

func (c *Client) FindByDedupeKey(ctx context.Context, key ledger.DedupeKey) (ledger.TxRef, bool, error) {
	ref, err := c.api.FindByDedupeKey(ctx, key)
	if err != nil {
		return "", false, err
	}
	return ref, ref != "", nil
}

func (c *Client) GetStatus(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error) {
	return c.api.GetStatus(ctx, ref)
}

func (c *Client) NextSequence(ctx context.Context, address string) (uint64, error) {
	return c.api.NextSequence(ctx, address)
}
