package listing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/bazaarnet/bazaar/ledger"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusPublishing    Status = "publishing"
	StatusPublished     Status = "published"
	StatusPublishFailed Status = "publish_failed"
	StatusArchived      Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublishing, StatusPublished, StatusPublishFailed, StatusArchived:
		return true
	}
	return false
}

// Stage is the last checkpoint a publishing saga reached. It is empty
// outside of StatusPublishing.
type Stage string

const (
	StageNone                 Stage = ""
	StageUploadingMetadata    Stage = "uploading_metadata"
	StageSubmittingTx         Stage = "submitting_tx"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
)

// Reason codes recorded on listings which ended in publish_failed.
type Reason string

const (
	ReasonNone                     Reason = ""
	ReasonMetadataUploadFailed     Reason = "MetadataUploadFailed"
	ReasonLedgerSubmissionRejected Reason = "LedgerSubmissionRejected"
	ReasonConfirmationTimeout      Reason = "ConfirmationTimeout"
	ReasonNoIdentityAvailable      Reason = "NoIdentityAvailable"
	ReasonCancelled                Reason = "Cancelled"
)

var Reasons = []Reason{
	ReasonMetadataUploadFailed,
	ReasonLedgerSubmissionRejected,
	ReasonConfirmationTimeout,
	ReasonNoIdentityAvailable,
	ReasonCancelled,
}

const DefaultCurrency = "ETH"

var (
	ErrNotFound        = errors.New("listing not found")
	ErrVersionConflict = errors.New("listing version conflict")
	ErrAlreadyExists   = errors.New("listing already exists")
	// ErrInvalidUpdate is returned by stores for writes that would break a
	// listing invariant.
	ErrInvalidUpdate = errors.New("invalid listing update")
)

type LedgerRecord struct {
	Network         string       `json:"network"`
	ContractAddress string       `json:"contractAddress"`
	TxRef           ledger.TxRef `json:"txRef"`
	BlockNumber     uint64       `json:"blockNumber"`
}

type PublishAttempt struct {
	// Count is the number of ledger submissions in the current run.
	Count int `json:"count"`
	// Runs is the number of times publishing was started.
	Runs          int       `json:"runs"`
	LastError     string    `json:"lastError,omitempty"`
	Reason        Reason    `json:"reason,omitempty"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`
}

type Listing struct {
	ID       string `json:"id"`
	SellerID string `json:"sellerId"`

	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	Images          []string `json:"images"`
	PriceMinorUnits int64    `json:"priceMinorUnits"`
	Currency        string   `json:"currency"`
	Stock           int64    `json:"stock"`

	Status Status `json:"status"`
	Stage  Stage  `json:"stage,omitempty"`

	MetadataCID  cid.Cid          `json:"metadataCID"`
	DedupeKey    ledger.DedupeKey `json:"dedupeKey,omitempty"`
	TxRef        ledger.TxRef     `json:"txRef,omitempty"`
	LedgerRecord *LedgerRecord    `json:"ledgerRecord"`

	PublishAttempt PublishAttempt `json:"publishAttempt"`

	Version     uint64    `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
}

// Draft holds the catalog-editable fields of a listing.
type Draft struct {
	SellerID        string   `json:"sellerId"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	Images          []string `json:"images"`
	PriceMinorUnits int64    `json:"priceMinorUnits"`
	Currency        string   `json:"currency"`
	Stock           int64    `json:"stock"`
}

func NewID() string {
	return "lst_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// New builds a draft listing with a fresh id. The listing is not stored.
func New(d Draft, now time.Time) *Listing {
	cur := d.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	return &Listing{
		ID:              NewID(),
		SellerID:        d.SellerID,
		Name:            d.Name,
		Description:     d.Description,
		Category:        d.Category,
		Images:          append([]string{}, d.Images...),
		PriceMinorUnits: d.PriceMinorUnits,
		Currency:        cur,
		Stock:           d.Stock,
		Status:          StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ApplyDraft copies the editable fields of d onto l. SellerID is left alone.
func (l *Listing) ApplyDraft(d Draft) {
	l.Name = d.Name
	l.Description = d.Description
	l.Category = d.Category
	l.Images = append([]string{}, d.Images...)
	l.PriceMinorUnits = d.PriceMinorUnits
	if d.Currency != "" {
		l.Currency = d.Currency
	}
	l.Stock = d.Stock
}

// Clone returns a deep copy.
func (l *Listing) Clone() *Listing {
	out := *l
	out.Images = append([]string(nil), l.Images...)
	if l.LedgerRecord != nil {
		lr := *l.LedgerRecord
		out.LedgerRecord = &lr
	}
	return &out
}

func (l *Listing) Published() bool {
	return l.Status == StatusPublished
}

type Filter struct {
	Statuses []Status
	Stage    Stage
	SellerID string
	Limit    int
}

// Store is a versioned listing store. Every write is a compare-and-swap on
// Version: Update and Delete fail with ErrVersionConflict when the stored
// version differs from the one supplied.
type Store interface {
	// Create stores a new listing at version 1.
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	// Update replaces the listing if its stored version equals l.Version. On
	// success l.Version and l.UpdatedAt are advanced in place.
	Update(ctx context.Context, l *Listing) error
	// Delete removes a draft listing.
	Delete(ctx context.Context, id string, version uint64) error
	List(ctx context.Context, f Filter) ([]*Listing, error)
	Close() error
}
