package dtypes

import (
	"github.com/ipfs/go-datastore"
)

// MetadataDS stores listings, identity sequences and locally held metadata
// blocks.
type MetadataDS datastore.Batching
