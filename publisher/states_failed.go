package publisher

import (
	"context"

	"go.opencensus.io/stats"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/metrics"
)

type failureAlert struct {
	Listing string
	Seller  string
	Stage   listing.Stage
	Error   string
}

// fail parks prev in publish_failed with the given reason. The metadata CID
// and dedupe key are kept so a later Publish resumes from them.
func (p *Publisher) fail(ctx context.Context, prev *listing.Listing, reason listing.Reason, cause error) error {
	next := prev.Clone()
	next.Status = listing.StatusPublishFailed
	next.Stage = listing.StageNone
	next.PublishAttempt.Reason = reason
	next.PublishAttempt.LastError = cause.Error()
	next.PublishAttempt.LastAttemptAt = build.Clock.Now()

	if err := p.commit(ctx, prev, next); err != nil {
		return err
	}

	log.Errorw("publish failed", "listing", prev.ID, "stage", prev.Stage, "reason", reason, "error", cause)
	stats.Record(metrics.Tagged(ctx, metrics.Reason, string(reason)), metrics.PublishFailed.M(1))

	if at, ok := p.alertTypes[reason]; ok {
		p.alerts.Raise(at, failureAlert{
			Listing: prev.ID,
			Seller:  prev.SellerID,
			Stage:   prev.Stage,
			Error:   cause.Error(),
		})
	}
	return nil
}
