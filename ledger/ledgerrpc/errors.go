package ledgerrpc

import (
	"github.com/filecoin-project/go-jsonrpc"

	"github.com/bazaarnet/bazaar/ledger"
)

const (
	ERejected = iota + jsonrpc.FirstUserCode
	EUnavailable
	ETxNotFound
)

var RPCErrors = jsonrpc.NewErrors()

func init() {
	RPCErrors.Register(ERejected, new(*ledger.RejectedError))
	RPCErrors.Register(EUnavailable, new(*ledger.UnavailableError))
	RPCErrors.Register(ETxNotFound, new(*ledger.NotFoundError))
}
