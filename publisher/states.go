package publisher

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/contentstore"
	"github.com/bazaarnet/bazaar/identity"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/lib/retry"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/metrics"
)

func (p *Publisher) handleUploadMetadata(ctx context.Context, l *listing.Listing) error {
	next := l.Clone()

	if !l.MetadataCID.Defined() {
		b, err := l.MetadataBytes()
		if err != nil {
			return p.fail(ctx, l, listing.ReasonMetadataUploadFailed, xerrors.Errorf("encoding metadata: %w", err))
		}

		pol := retry.Policy{
			Attempts: p.cfg.UploadAttempts,
			Min:      p.cfg.UploadBackoffMin,
			Max:      p.cfg.UploadBackoffMax,
			Jitter:   true,
		}
		c, err := retry.Do(ctx, pol, isUploadRetryable, func(attempt int) (cid.Cid, error) {
			stats.Record(ctx, metrics.MetadataUploads.M(1))
			c, err := p.content.Put(ctx, b)
			if err != nil {
				log.Warnw("metadata upload failed", "listing", l.ID, "attempt", attempt, "error", err)
			}
			return c, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return p.fail(ctx, l, listing.ReasonMetadataUploadFailed, err)
		}

		log.Infow("metadata uploaded", "listing", l.ID, "cid", c)
		next.MetadataCID = c
	}

	next.DedupeKey = ledger.NewDedupeKey(l.ID, next.MetadataCID)
	next.Stage = listing.StageSubmittingTx
	if err := p.commit(ctx, l, next); err != nil {
		return err
	}

	p.alerts.Resolve(p.alertTypes[listing.ReasonMetadataUploadFailed], map[string]string{"listing": l.ID})
	return nil
}

func isUploadRetryable(err error) bool {
	var ue *contentstore.UploadError
	return errors.As(err, &ue)
}

func isSubmitRetryable(err error) bool {
	return !errors.Is(err, identity.ErrNoIdentityAvailable) &&
		!errors.Is(err, listing.ErrVersionConflict) &&
		!errors.Is(err, listing.ErrInvalidUpdate) &&
		ledger.IsTransient(err)
}

// handleSubmit registers the listing on the ledger. Every attempt first looks
// the dedupe key up, so a submission whose response was lost is adopted
// rather than repeated.
func (p *Publisher) handleSubmit(ctx context.Context, l *listing.Listing) error {
	key := ledger.NewDedupeKey(l.ID, l.MetadataCID)
	payload := ledger.Registration{
		ListingID:       l.ID,
		SellerID:        l.SellerID,
		MetadataCID:     l.MetadataCID,
		PriceMinorUnits: l.PriceMinorUnits,
		Currency:        l.Currency,
		Stock:           l.Stock,
	}

	pol := retry.Policy{
		Attempts: p.cfg.SubmitAttempts,
		Min:      p.cfg.SubmitBackoffMin,
		Max:      p.cfg.SubmitBackoffMax,
		Jitter:   true,
	}

	cur := l
	ref, err := retry.Do(ctx, pol, isSubmitRetryable, func(attempt int) (ledger.TxRef, error) {
		existing, found, err := p.ledger.FindByDedupeKey(ctx, key)
		if err != nil {
			return "", xerrors.Errorf("looking up dedupe key: %w", err)
		}
		if found {
			st, err := p.ledger.GetStatus(ctx, existing)
			if err != nil && !ledger.IsNotFound(err) {
				return "", xerrors.Errorf("getting status of %s: %w", existing, err)
			}
			if err == nil && st.State != ledger.TxFailed {
				log.Infow("adopting existing ledger transaction", "listing", l.ID, "tx", existing, "state", st.State)
				return existing, nil
			}
			log.Infow("existing ledger transaction unusable, submitting again", "listing", l.ID, "tx", existing)
		}

		lease, err := p.pool.Acquire(ctx, l.SellerID)
		if err != nil {
			return "", err
		}
		defer lease.Release()

		next := cur.Clone()
		next.PublishAttempt.Count++
		next.PublishAttempt.LastAttemptAt = build.Clock.Now()
		if err := p.commit(ctx, cur, next); err != nil {
			return "", err
		}
		cur = next

		ref, err := p.ledger.Submit(ctx, key, lease, payload)
		if err != nil {
			log.Warnw("ledger submission failed", "listing", l.ID, "attempt", attempt, "from", lease.Address(), "error", err)
			if ledger.IsTransient(err) {
				if rerr := lease.Resync(ctx, p.ledger); rerr != nil {
					log.Warnw("resyncing identity sequence", "address", lease.Address(), "error", rerr)
				}
			}
			return "", err
		}
		log.Infow("ledger transaction submitted", "listing", l.ID, "tx", ref, "from", lease.Address(), "attempt", attempt)
		return ref, nil
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, listing.ErrVersionConflict):
			return err
		case errors.Is(err, identity.ErrNoIdentityAvailable):
			return p.fail(ctx, cur, listing.ReasonNoIdentityAvailable, err)
		default:
			return p.fail(ctx, cur, listing.ReasonLedgerSubmissionRejected, err)
		}
	}

	next := cur.Clone()
	next.DedupeKey = key
	next.TxRef = ref
	next.Stage = listing.StageAwaitingConfirmation
	next.SubmittedAt = build.Clock.Now()
	if err := p.commit(ctx, cur, next); err != nil {
		return err
	}

	stats.Record(ctx, metrics.LedgerSubmitAttempt.M(int64(next.PublishAttempt.Count)))
	return nil
}

// handleAwaitConfirmation polls the ledger until the transaction confirms,
// fails, or the confirmation timeout measured from submission passes. On
// timeout the listing stays in awaiting_confirmation for the reconciler.
func (p *Publisher) handleAwaitConfirmation(ctx context.Context, l *listing.Listing) error {
	wait := l.SubmittedAt.Add(p.cfg.ConfirmationTimeout).Sub(build.Clock.Now())
	if wait < 0 {
		wait = 0
	}

	ticker := build.Clock.Ticker(p.cfg.PollInterval)
	defer ticker.Stop()
	timeout := build.Clock.Timer(wait)
	defer timeout.Stop()

	for {
		st, err := p.ledger.GetStatus(ctx, l.TxRef)
		switch {
		case err == nil && st.State == ledger.TxConfirmed:
			return p.complete(ctx, l, l.TxRef, st.BlockNumber)
		case err == nil && st.State == ledger.TxFailed:
			return p.fail(ctx, l, listing.ReasonLedgerSubmissionRejected, xerrors.Errorf("transaction %s failed: %s", l.TxRef, st.Reason))
		case err != nil:
			log.Warnw("getting transaction status", "listing", l.ID, "tx", l.TxRef, "error", err)
		}

		select {
		case <-ticker.C:
		case <-timeout.C:
			log.Warnw("confirmation wait timed out, handing off to reconciler", "listing", l.ID, "tx", l.TxRef, "timeout", p.cfg.ConfirmationTimeout)
			p.notify(l, l, true)
			return errHandOff
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// complete finalizes a listing whose transaction reached confirmation.
func (p *Publisher) complete(ctx context.Context, prev *listing.Listing, ref ledger.TxRef, block uint64) error {
	next := prev.Clone()
	next.Status = listing.StatusPublished
	next.Stage = listing.StageNone
	next.TxRef = ref
	next.LedgerRecord = &listing.LedgerRecord{
		Network:         p.info.Network,
		ContractAddress: p.info.ContractAddress,
		TxRef:           ref,
		BlockNumber:     block,
	}
	next.PublishAttempt.LastError = ""
	next.PublishAttempt.Reason = listing.ReasonNone

	if err := p.commit(ctx, prev, next); err != nil {
		return err
	}

	log.Infow("listing published", "listing", next.ID, "cid", next.MetadataCID, "tx", ref, "block", block)
	stats.Record(ctx, metrics.PublishPublished.M(1))
	if !prev.SubmittedAt.IsZero() {
		stats.Record(ctx, metrics.PublishDuration.M(metrics.SinceInMilliseconds(prev.SubmittedAt)))
	}
	for _, r := range []listing.Reason{listing.ReasonLedgerSubmissionRejected, listing.ReasonNoIdentityAvailable, listing.ReasonConfirmationTimeout} {
		p.alerts.Resolve(p.alertTypes[r], map[string]string{"listing": next.ID})
	}
	return nil
}
