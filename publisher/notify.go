package publisher

import (
	"context"

	"github.com/hannahhoward/go-pubsub"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/journal"
	"github.com/bazaarnet/bazaar/listing"
)

// StateChange is published after every persisted saga transition.
type StateChange struct {
	Before *listing.Listing
	After  *listing.Listing
	// HandedOff is set when a saga stopped waiting for confirmation and
	// left the listing to the reconciler.
	HandedOff bool
}

// Done reports whether the saga has nothing more to do in this process.
func (sc StateChange) Done() bool {
	return sc.HandedOff || sc.After.Status != listing.StatusPublishing
}

type Subscriber func(StateChange)

type Unsubscribe = pubsub.Unsubscribe

func newStateListeners() *pubsub.PubSub {
	return pubsub.New(func(event pubsub.Event, subFn pubsub.SubscriberFn) error {
		evt, ok := event.(StateChange)
		if !ok {
			return xerrors.Errorf("wrong type of event")
		}
		sub, ok := subFn.(Subscriber)
		if !ok {
			return xerrors.Errorf("wrong type of subscriber")
		}
		sub(evt)
		return nil
	})
}

// Subscribe registers fn for state changes of all listings. fn runs on the
// publishing goroutine and must not block.
func (p *Publisher) Subscribe(fn Subscriber) Unsubscribe {
	return p.ps.Subscribe(fn)
}

func (p *Publisher) notify(before, after *listing.Listing, handedOff bool) {
	sc := StateChange{Before: before, After: after.Clone(), HandedOff: handedOff}

	journal.MaybeAddEntry(p.journal, p.evtStateChange, func() interface{} {
		return stateChangeEvt{
			Listing:   after.ID,
			From:      before.Status,
			FromStage: before.Stage,
			To:        after.Status,
			ToStage:   after.Stage,
			Reason:    after.PublishAttempt.Reason,
			HandedOff: handedOff,
		}
	})

	if err := p.ps.Publish(sc); err != nil {
		// In theory we shouldn't ever get an error here
		log.Errorf("unexpected error publishing state change: %s", err)
	}
}

type stateChangeEvt struct {
	Listing   string
	From      listing.Status
	FromStage listing.Stage
	To        listing.Status
	ToStage   listing.Stage
	Reason    listing.Reason `json:",omitempty"`
	HandedOff bool           `json:",omitempty"`
}

// Wait blocks until the listing leaves publishing, or until its saga handed
// it off to the reconciler, and returns the listing at that point.
func (p *Publisher) Wait(ctx context.Context, id string) (*listing.Listing, error) {
	ch := make(chan StateChange, 16)
	unsub := p.Subscribe(func(sc StateChange) {
		if sc.After.ID != id || !sc.Done() {
			return
		}
		select {
		case ch <- sc:
		default:
		}
	})
	defer unsub()

	l, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != listing.StatusPublishing {
		return l, nil
	}
	if !p.IsActive(id) {
		select {
		case sc := <-ch:
			return sc.After, nil
		default:
		}
		return p.store.Get(ctx, id)
	}

	select {
	case sc := <-ch:
		return sc.After, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
