package listing

import (
	cbor "github.com/ipfs/go-ipld-cbor"
	"golang.org/x/xerrors"
)

// Metadata is the immutable snapshot uploaded to the content store. Its
// DAG-CBOR encoding depends only on the draft fields, so identical content
// always produces identical bytes.
type Metadata struct {
	ListingID       string   `refmt:"listingId"`
	SellerID        string   `refmt:"sellerId"`
	Name            string   `refmt:"name"`
	Description     string   `refmt:"description"`
	Category        string   `refmt:"category"`
	Images          []string `refmt:"images"`
	PriceMinorUnits int64    `refmt:"priceMinorUnits"`
	Currency        string   `refmt:"currency"`
	Stock           int64    `refmt:"stock"`
}

func init() {
	cbor.RegisterCborType(Metadata{})
}

func (l *Listing) Metadata() Metadata {
	images := l.Images
	if images == nil {
		images = []string{}
	}
	return Metadata{
		ListingID:       l.ID,
		SellerID:        l.SellerID,
		Name:            l.Name,
		Description:     l.Description,
		Category:        l.Category,
		Images:          images,
		PriceMinorUnits: l.PriceMinorUnits,
		Currency:        l.Currency,
		Stock:           l.Stock,
	}
}

// MetadataBytes returns the canonical DAG-CBOR encoding of l's metadata.
func (l *Listing) MetadataBytes() ([]byte, error) {
	b, err := cbor.DumpObject(l.Metadata())
	if err != nil {
		return nil, xerrors.Errorf("encoding metadata of %s: %w", l.ID, err)
	}
	return b, nil
}

func DecodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if err := cbor.DecodeInto(b, &m); err != nil {
		return Metadata{}, xerrors.Errorf("decoding metadata: %w", err)
	}
	return m, nil
}
