package ledgerrpc

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/ledger"
)

// Backend is a ledger that can be served.
type Backend interface {
	ledger.Client
	Info() ledger.Info
}

type server struct {
	b Backend
}

var _ API = (*server)(nil)

// wireSigner carries the sequence a remote client signed with. The client
// advances its own identity once the call returns.
type wireSigner struct {
	addr string
	seq  uint64
}

func (w *wireSigner) Address() string               { return w.addr }
func (w *wireSigner) Sequence() uint64              { return w.seq }
func (w *wireSigner) Advance(context.Context) error { return nil }

func (s *server) Version(context.Context) (build.Version, error) {
	return build.VersionForAPI(build.APILedger)
}

func (s *server) Info(context.Context) (ledger.Info, error) {
	return s.b.Info(), nil
}

func (s *server) SubmitSigned(ctx context.Context, key ledger.DedupeKey, from string, sequence uint64, payload ledger.Registration) (ledger.TxRef, error) {
	return s.b.Submit(ctx, key, &wireSigner{addr: from, seq: sequence}, payload)
}

func (s *server) FindByDedupeKey(ctx context.Context, key ledger.DedupeKey) (ledger.TxRef, error) {
	ref, found, err := s.b.FindByDedupeKey(ctx, key)
	if err != nil || !found {
		return "", err
	}
	return ref, nil
}

func (s *server) GetStatus(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error) {
	return s.b.GetStatus(ctx, ref)
}

func (s *server) NextSequence(ctx context.Context, address string) (uint64, error) {
	return s.b.NextSequence(ctx, address)
}

// Handler serves b under the Ledger namespace.
func Handler(b Backend, opts ...jsonrpc.ServerOption) http.Handler {
	rpcServer := jsonrpc.NewServer(append(opts, jsonrpc.WithServerErrors(RPCErrors))...)
	rpcServer.Register(Namespace, &server{b: b})
	return rpcServer
}
