package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// DedupeKey identifies a registration for one (listing, metadata) pair. Two
// publish attempts for identical content always derive the same key.
type DedupeKey string

// TxRef is an opaque reference to a submitted ledger transaction.
type TxRef string

// NewDedupeKey derives the dedupe key of a listing's registration. The key is
// the hex encoding of a sha2-256 multihash over the listing id and the CID.
func NewDedupeKey(listingID string, metadata cid.Cid) DedupeKey {
	buf := make([]byte, 0, len(listingID)+1+metadata.ByteLen())
	buf = append(buf, listingID...)
	buf = append(buf, 0)
	buf = append(buf, metadata.Bytes()...)

	h, err := mh.Sum(buf, mh.SHA2_256, -1)
	if err != nil {
		// sha2-256 is always registered
		sum := sha256.Sum256(buf)
		return DedupeKey(hex.EncodeToString(sum[:]))
	}
	return DedupeKey(h.HexString())
}

type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
)

type TxStatus struct {
	State       TxState
	BlockNumber uint64 `json:",omitempty"`
	Reason      string `json:",omitempty"`
}

// Registration is the payload of a listing registration transaction.
type Registration struct {
	ListingID       string
	SellerID        string
	MetadataCID     cid.Cid
	PriceMinorUnits int64
	Currency        string
	Stock           int64
}

// Signer is the identity a transaction is submitted under. Clients call
// Advance exactly once after the ledger accepted a submission with the
// current Sequence.
type Signer interface {
	Address() string
	Sequence() uint64
	Advance(ctx context.Context) error
}

//go:generate go run github.com/golang/mock/mockgen -destination=mockledger/mock_client.go -package=mockledger . Client

// Client is the narrow view of the registry ledger the publisher needs.
type Client interface {
	// Submit sends a registration under the signer's current sequence.
	// Errors are *RejectedError (permanent) or *UnavailableError (transient).
	Submit(ctx context.Context, key DedupeKey, signer Signer, payload Registration) (TxRef, error)
	// FindByDedupeKey returns the most recent transaction registered under key.
	FindByDedupeKey(ctx context.Context, key DedupeKey) (TxRef, bool, error)
	GetStatus(ctx context.Context, ref TxRef) (TxStatus, error)
	// NextSequence returns the next sequence the ledger expects from address.
	NextSequence(ctx context.Context, address string) (uint64, error)
}

// Info describes where registrations end up. It is copied into the ledger
// record of published listings.
type Info struct {
	Network         string
	ContractAddress string
}
