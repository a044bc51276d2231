package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/metrics"
)

// errHandOff stops a saga without a terminal state. The listing stays in
// awaiting_confirmation for the reconciler.
var errHandOff = errors.New("handed off to reconciler")

type stageHandler func(p *Publisher, ctx context.Context, l *listing.Listing) error

/*

	draft / publish_failed
	    |
	    v
	uploading_metadata --(cid checkpoint)--> submitting_tx --(txRef checkpoint)--> awaiting_confirmation
	    |                                        |                                    |     |
	    v                                        v                                    |     v
	publish_failed <-----------------------------+------------------------------------/   published
	                                                     timeout: hand off to reconciler

*/

var stagePlanners = map[listing.Stage]stageHandler{
	listing.StageUploadingMetadata:    (*Publisher).handleUploadMetadata,
	listing.StageSubmittingTx:         (*Publisher).handleSubmit,
	listing.StageAwaitingConfirmation: (*Publisher).handleAwaitConfirmation,
}

// drive runs stage handlers for one listing until it leaves publishing, the
// saga hands off or ctx is cancelled. Each handler persists its checkpoint
// before returning, so the loop always restarts from the stored listing.
func (p *Publisher) drive(ctx context.Context, id string) {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 30 * time.Second}

	for {
		if ctx.Err() != nil {
			return
		}

		l, err := p.store.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, listing.ErrNotFound) {
				log.Errorw("publishing listing disappeared", "listing", id)
				return
			}
			log.Errorw("loading listing", "listing", id, "error", err)
			if !sleep(ctx, b.Duration()) {
				return
			}
			continue
		}

		if l.Status != listing.StatusPublishing {
			log.Debugw("saga done", "listing", id, "status", l.Status)
			return
		}

		h, ok := stagePlanners[l.Stage]
		if !ok {
			log.Errorw("no handler for stage", "listing", id, "stage", l.Stage)
			return
		}

		stop := metrics.Timer(metrics.Tagged(ctx, metrics.Stage, string(l.Stage)), metrics.StageDuration)
		err = h(p, ctx, l)
		stop()

		switch {
		case err == nil:
			b.Reset()
		case errors.Is(err, errHandOff):
			return
		case ctx.Err() != nil:
			log.Infow("saga interrupted", "listing", id, "stage", l.Stage)
			return
		case errors.Is(err, listing.ErrVersionConflict):
			log.Debugw("listing changed under saga, reloading", "listing", id, "stage", l.Stage)
		default:
			log.Errorw("stage handler failed", "listing", id, "stage", l.Stage, "error", err)
			if !sleep(ctx, b.Duration()) {
				return
			}
		}
	}
}

// commit persists next over prev and notifies subscribers.
func (p *Publisher) commit(ctx context.Context, prev, next *listing.Listing) error {
	if err := p.store.Update(ctx, next); err != nil {
		return err
	}
	log.Debugw("checkpoint", "listing", next.ID, "status", next.Status, "stage", next.Stage, "version", next.Version)
	p.notify(prev, next, false)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := build.Clock.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
