// Package ledgerrpc exposes a ledger.Client over JSON-RPC and provides the
// matching client.
package ledgerrpc

import (
	"context"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/ledger"
)

const Namespace = "Ledger"

// API is the wire interface. Signers cannot cross the wire, so submissions
// carry the signing address and sequence explicitly.
type API interface {
	Version(ctx context.Context) (build.Version, error)
	Info(ctx context.Context) (ledger.Info, error)
	SubmitSigned(ctx context.Context, key ledger.DedupeKey, from string, sequence uint64, payload ledger.Registration) (ledger.TxRef, error)
	// FindByDedupeKey returns an empty TxRef when nothing is registered.
	FindByDedupeKey(ctx context.Context, key ledger.DedupeKey) (ledger.TxRef, error)
	GetStatus(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error)
	NextSequence(ctx context.Context, address string) (uint64, error)
}

// APIStruct is the client-side proxy filled in by jsonrpc.NewMergeClient.
type APIStruct struct {
	Internal struct {
		Version         func(ctx context.Context) (build.Version, error)
		Info            func(ctx context.Context) (ledger.Info, error)
		SubmitSigned    func(ctx context.Context, key ledger.DedupeKey, from string, sequence uint64, payload ledger.Registration) (ledger.TxRef, error)
		FindByDedupeKey func(ctx context.Context, key ledger.DedupeKey) (ledger.TxRef, error)
		GetStatus       func(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error)
		NextSequence    func(ctx context.Context, address string) (uint64, error)
	}
}

var _ API = (*APIStruct)(nil)

func (s *APIStruct) Version(ctx context.Context) (build.Version, error) {
	return s.Internal.Version(ctx)
}

func (s *APIStruct) Info(ctx context.Context) (ledger.Info, error) {
	return s.Internal.Info(ctx)
}

func (s *APIStruct) SubmitSigned(ctx context.Context, key ledger.DedupeKey, from string, sequence uint64, payload ledger.Registration) (ledger.TxRef, error) {
	return s.Internal.SubmitSigned(ctx, key, from, sequence, payload)
}

func (s *APIStruct) FindByDedupeKey(ctx context.Context, key ledger.DedupeKey) (ledger.TxRef, error) {
	return s.Internal.FindByDedupeKey(ctx, key)
}

func (s *APIStruct) GetStatus(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error) {
	return s.Internal.GetStatus(ctx, ref)
}

func (s *APIStruct) NextSequence(ctx context.Context, address string) (uint64, error) {
	return s.Internal.NextSequence(ctx, address)
}
