package publisher

import (
	"context"
	"errors"
	"time"

	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/metrics"
)

type ReconcilerConfig struct {
	Interval time.Duration
	// ConfirmationDeadline is how long after submission a listing must sit
	// in awaiting_confirmation before the reconciler looks at it.
	ConfirmationDeadline time.Duration
	// RetryThreshold is how long after submission a transaction the ledger
	// does not know about is given up on.
	RetryThreshold time.Duration
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:             time.Minute,
		ConfirmationDeadline: 10 * time.Minute,
		RetryThreshold:       time.Hour,
	}
}

type ReconcileStats struct {
	Examined  int
	Published int
	Failed    int
	Pending   int
	Errors    int
}

// Reconciler resolves listings whose saga stopped waiting for confirmation.
// It only moves listings forward from their persisted checkpoint and never
// submits to the ledger.
type Reconciler struct {
	p   *Publisher
	cfg ReconcilerConfig
}

func NewReconciler(p *Publisher, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{p: p, cfg: cfg}
}

// Run calls Pass every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := build.Clock.Ticker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st, err := r.Pass(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Errorw("reconciler pass", "error", err)
				continue
			}
			if st.Examined > 0 {
				log.Infow("reconciler pass done", "examined", st.Examined, "published", st.Published, "failed", st.Failed, "pending", st.Pending, "errors", st.Errors)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Pass examines every overdue listing in awaiting_confirmation once.
func (r *Reconciler) Pass(ctx context.Context) (ReconcileStats, error) {
	defer metrics.Timer(ctx, metrics.ReconcilerPass)()

	var st ReconcileStats

	ls, err := r.p.store.List(ctx, listing.Filter{
		Statuses: []listing.Status{listing.StatusPublishing},
		Stage:    listing.StageAwaitingConfirmation,
	})
	if err != nil {
		return st, xerrors.Errorf("listing unconfirmed publications: %w", err)
	}

	now := build.Clock.Now()
	for _, l := range ls {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		if r.p.IsActive(l.ID) {
			continue
		}
		age := now.Sub(l.SubmittedAt)
		if age < r.cfg.ConfirmationDeadline {
			continue
		}

		st.Examined++
		outcome, err := r.reconcile(ctx, l, age)
		if err != nil {
			if errors.Is(err, listing.ErrVersionConflict) {
				log.Debugw("listing changed during reconciliation", "listing", l.ID)
				continue
			}
			st.Errors++
			log.Warnw("reconciling listing", "listing", l.ID, "tx", l.TxRef, "error", err)
			continue
		}

		switch outcome {
		case listing.StatusPublished:
			st.Published++
		case listing.StatusPublishFailed:
			st.Failed++
		default:
			st.Pending++
			continue
		}
		stats.Record(metrics.Tagged(ctx, metrics.Outcome, string(outcome)), metrics.ReconcilerResolved.M(1))
	}

	return st, nil
}

func (r *Reconciler) reconcile(ctx context.Context, l *listing.Listing, age time.Duration) (listing.Status, error) {
	key := l.DedupeKey
	if key == "" {
		key = ledger.NewDedupeKey(l.ID, l.MetadataCID)
	}

	ref, found, err := r.p.ledger.FindByDedupeKey(ctx, key)
	if err != nil {
		return "", xerrors.Errorf("looking up dedupe key: %w", err)
	}

	var status ledger.TxStatus
	if found {
		status, err = r.p.ledger.GetStatus(ctx, ref)
		if ledger.IsNotFound(err) {
			found = false
		} else if err != nil {
			return "", xerrors.Errorf("getting status of %s: %w", ref, err)
		}
	}

	if !found {
		if age < r.cfg.RetryThreshold {
			return listing.StatusPublishing, nil
		}
		cause := xerrors.Errorf("no ledger transaction for listing %s %s after submission", l.ID, age.Truncate(time.Second))
		if err := r.p.fail(ctx, l, listing.ReasonConfirmationTimeout, cause); err != nil {
			return "", err
		}
		return listing.StatusPublishFailed, nil
	}

	switch status.State {
	case ledger.TxConfirmed:
		log.Infow("reconciler found confirmed transaction", "listing", l.ID, "tx", ref, "block", status.BlockNumber)
		if err := r.p.complete(ctx, l, ref, status.BlockNumber); err != nil {
			return "", err
		}
		return listing.StatusPublished, nil
	case ledger.TxFailed:
		cause := xerrors.Errorf("transaction %s failed: %s", ref, status.Reason)
		if err := r.p.fail(ctx, l, listing.ReasonLedgerSubmissionRejected, cause); err != nil {
			return "", err
		}
		return listing.StatusPublishFailed, nil
	default:
		return listing.StatusPublishing, nil
	}
}
