package listing

import (
	"slices"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
)

var transitions = map[Status][]Status{
	StatusDraft:         {StatusDraft, StatusPublishing},
	StatusPublishing:    {StatusPublishing, StatusPublished, StatusPublishFailed},
	StatusPublishFailed: {StatusPublishFailed, StatusPublishing},
	StatusPublished:     {StatusPublished, StatusArchived},
	StatusArchived:      {StatusArchived},
}

// CheckUpdate validates a write of next over prev. Stores call it under the
// same lock or transaction as the version check.
func CheckUpdate(prev, next *Listing) error {
	if prev.ID != next.ID {
		return xerrors.Errorf("id is immutable: %w", ErrInvalidUpdate)
	}
	if prev.SellerID != next.SellerID {
		return xerrors.Errorf("seller id is immutable: %w", ErrInvalidUpdate)
	}
	if !prev.CreatedAt.Equal(next.CreatedAt) {
		return xerrors.Errorf("creation time is immutable: %w", ErrInvalidUpdate)
	}
	if !lo.Contains(transitions[prev.Status], next.Status) {
		return xerrors.Errorf("transition %s -> %s not allowed: %w", prev.Status, next.Status, ErrInvalidUpdate)
	}
	if prev.MetadataCID.Defined() && !prev.MetadataCID.Equals(next.MetadataCID) {
		return xerrors.Errorf("metadata cid %s is write-once: %w", prev.MetadataCID, ErrInvalidUpdate)
	}
	if prev.LedgerRecord != nil && (next.LedgerRecord == nil || *prev.LedgerRecord != *next.LedgerRecord) {
		return xerrors.Errorf("ledger record is write-once: %w", ErrInvalidUpdate)
	}
	if !(prev.Status == StatusDraft && next.Status == StatusDraft) && draftChanged(prev, next) {
		return xerrors.Errorf("draft fields can only change in status %s: %w", StatusDraft, ErrInvalidUpdate)
	}
	return Check(next)
}

// Check validates the invariants of a single listing.
func Check(l *Listing) error {
	if l.ID == "" {
		return xerrors.Errorf("missing id: %w", ErrInvalidUpdate)
	}
	if !l.Status.Valid() {
		return xerrors.Errorf("unknown status %q: %w", l.Status, ErrInvalidUpdate)
	}
	if (l.Status == StatusPublishing) != (l.Stage != StageNone) {
		return xerrors.Errorf("stage %q with status %s: %w", l.Stage, l.Status, ErrInvalidUpdate)
	}
	if l.Status == StatusPublished && (!l.MetadataCID.Defined() || l.LedgerRecord == nil) {
		return xerrors.Errorf("published listing without metadata cid and ledger record: %w", ErrInvalidUpdate)
	}
	if l.LedgerRecord != nil && !l.MetadataCID.Defined() {
		return xerrors.Errorf("ledger record without metadata cid: %w", ErrInvalidUpdate)
	}
	return nil
}

func draftChanged(a, b *Listing) bool {
	return a.Name != b.Name ||
		a.Description != b.Description ||
		a.Category != b.Category ||
		!slices.Equal(a.Images, b.Images) ||
		a.PriceMinorUnits != b.PriceMinorUnits ||
		a.Currency != b.Currency ||
		a.Stock != b.Stock
}

// Match reports whether l passes the filter. Limit is not considered.
func (f Filter) Match(l *Listing) bool {
	if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, l.Status) {
		return false
	}
	if f.Stage != StageNone && l.Stage != f.Stage {
		return false
	}
	if f.SellerID != "" && l.SellerID != f.SellerID {
		return false
	}
	return true
}
