package contentstore

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
)

// Prefix is the CID prefix of every metadata block: CIDv1, dag-cbor, sha2-256.
var Prefix = cid.Prefix{
	Version:  1,
	Codec:    uint64(multicodec.DagCbor),
	MhType:   uint64(multicodec.Sha2_256),
	MhLength: -1,
}

// Client stores canonical metadata bytes. Put is deterministic and
// idempotent: identical bytes always yield the same CID.
type Client interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
}

// ComputeCID returns the CID data will be stored under, without storing it.
func ComputeCID(data []byte) (cid.Cid, error) {
	return Prefix.Sum(data)
}

// UploadError is a retryable transport failure.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("metadata upload failed: %s", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
