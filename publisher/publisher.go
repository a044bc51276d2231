package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hannahhoward/go-pubsub"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/contentstore"
	"github.com/bazaarnet/bazaar/identity"
	"github.com/bazaarnet/bazaar/journal"
	"github.com/bazaarnet/bazaar/journal/alerting"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/metrics"
)

var log = logging.Logger("publisher")

var (
	ErrNotFound          = listing.ErrNotFound
	ErrVersionConflict   = listing.ErrVersionConflict
	ErrInvalidState      = errors.New("listing is not in a state that allows this operation")
	ErrConcurrentPublish = errors.New("listing is already being published")
	ErrTooLateToCancel   = errors.New("ledger submission already started")
	// ErrContentChanged rejects a retry whose content no longer matches the
	// metadata uploaded by an earlier attempt.
	ErrContentChanged = fmt.Errorf("listing content differs from uploaded metadata: %w", ErrInvalidState)
)

type Config struct {
	UploadAttempts   int
	UploadBackoffMin time.Duration
	UploadBackoffMax time.Duration

	SubmitAttempts   int
	SubmitBackoffMin time.Duration
	SubmitBackoffMax time.Duration

	// ConfirmationTimeout bounds how long a saga polls for confirmation
	// before handing the listing to the reconciler.
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
}

func DefaultConfig() Config {
	return Config{
		UploadAttempts:      5,
		UploadBackoffMin:    500 * time.Millisecond,
		UploadBackoffMax:    30 * time.Second,
		SubmitAttempts:      5,
		SubmitBackoffMin:    time.Second,
		SubmitBackoffMax:    time.Minute,
		ConfirmationTimeout: 5 * time.Minute,
		PollInterval:        5 * time.Second,
	}
}

type saga struct {
	cancel context.CancelFunc
	rerun  bool
}

// Publisher drives listings from draft to published. Each listing in
// publishing has at most one saga goroutine in this process; the store's
// version checks exclude sagas in other processes.
type Publisher struct {
	cfg     Config
	store   listing.Store
	content contentstore.Client
	ledger  ledger.Client
	info    ledger.Info
	pool    *identity.Pool

	journal        journal.Journal
	evtStateChange journal.EventType
	alerts         *alerting.Alerting
	alertTypes     map[listing.Reason]alerting.AlertType

	ps *pubsub.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lk     sync.Mutex
	active map[string]*saga
}

func New(cfg Config, store listing.Store, content contentstore.Client, lc ledger.Client, info ledger.Info, pool *identity.Pool, j journal.Journal, alerts *alerting.Alerting) *Publisher {
	if j == nil {
		j = journal.NilJournal()
	}
	if alerts == nil {
		alerts = alerting.NewAlertingSystem(j)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		cfg:     cfg,
		store:   store,
		content: content,
		ledger:  lc,
		info:    info,
		pool:    pool,

		journal:        j,
		evtStateChange: j.RegisterEventType("publisher", "state_change"),
		alerts:         alerts,
		alertTypes:     map[listing.Reason]alerting.AlertType{},

		ps: newStateListeners(),

		ctx:    ctx,
		cancel: cancel,
		active: map[string]*saga{},
	}

	for _, r := range listing.Reasons {
		if r == listing.ReasonCancelled {
			continue
		}
		p.alertTypes[r] = alerts.AddAlertType("publisher", string(r))
	}

	return p
}

// Get returns the current snapshot of a listing.
func (p *Publisher) Get(ctx context.Context, id string) (*listing.Listing, error) {
	return p.store.Get(ctx, id)
}

// Publish moves a draft or publish_failed listing into publishing and starts
// its saga. It returns once the transition is persisted.
func (p *Publisher) Publish(ctx context.Context, id string) error {
	prev, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	switch prev.Status {
	case listing.StatusPublishing:
		return xerrors.Errorf("listing %s: %w", id, ErrConcurrentPublish)
	case listing.StatusDraft, listing.StatusPublishFailed:
	default:
		return xerrors.Errorf("publish listing %s in status %s: %w", id, prev.Status, ErrInvalidState)
	}

	next := prev.Clone()
	if next.MetadataCID.Defined() {
		if err := checkContent(next); err != nil {
			return err
		}
		next.Stage = listing.StageSubmittingTx
	} else {
		next.Stage = listing.StageUploadingMetadata
	}
	next.Status = listing.StatusPublishing
	next.PublishAttempt.Runs++
	next.PublishAttempt.Count = 0
	next.PublishAttempt.LastError = ""
	next.PublishAttempt.Reason = listing.ReasonNone
	next.PublishAttempt.LastAttemptAt = build.Clock.Now()

	if err := p.store.Update(ctx, next); err != nil {
		if !errors.Is(err, listing.ErrVersionConflict) {
			return err
		}
		// the winner may already have left publishing, so a newer run also
		// counts as a concurrent publish
		cur, gerr := p.store.Get(ctx, id)
		if gerr == nil && (cur.Status == listing.StatusPublishing || cur.PublishAttempt.Runs > prev.PublishAttempt.Runs) {
			return xerrors.Errorf("listing %s: %w", id, ErrConcurrentPublish)
		}
		return err
	}

	log.Infow("publishing listing", "listing", id, "stage", next.Stage, "run", next.PublishAttempt.Runs)
	stats.Record(ctx, metrics.PublishStarted.M(1))
	ready := make(chan struct{})
	p.startSaga(id, ready)
	p.notify(prev, next, false)
	close(ready)
	return nil
}

func checkContent(l *listing.Listing) error {
	b, err := l.MetadataBytes()
	if err != nil {
		return err
	}
	c, err := contentstore.ComputeCID(b)
	if err != nil {
		return err
	}
	if !c.Equals(l.MetadataCID) {
		return xerrors.Errorf("listing %s hashes to %s, uploaded %s: %w", l.ID, c, l.MetadataCID, ErrContentChanged)
	}
	return nil
}

// Archive retires a published listing.
func (p *Publisher) Archive(ctx context.Context, id string) error {
	var prev *listing.Listing
	next, err := listing.Mutate(ctx, p.store, id, func(l *listing.Listing) error {
		if l.Status != listing.StatusPublished {
			return xerrors.Errorf("archive listing %s in status %s: %w", id, l.Status, ErrInvalidState)
		}
		prev = l.Clone()
		l.Status = listing.StatusArchived
		return nil
	})
	if err != nil {
		return err
	}

	p.notify(prev, next, false)
	return nil
}

// Cancel stops a saga before its first ledger submission of the current run.
// handleSubmit persists PublishAttempt.Count before calling the ledger, so
// the version check orders a cancel against a submission.
func (p *Publisher) Cancel(ctx context.Context, id string) error {
	var prev *listing.Listing
	next, err := listing.Mutate(ctx, p.store, id, func(l *listing.Listing) error {
		if l.Status != listing.StatusPublishing {
			return xerrors.Errorf("cancel listing %s in status %s: %w", id, l.Status, ErrInvalidState)
		}
		switch {
		case l.Stage == listing.StageUploadingMetadata:
		case l.Stage == listing.StageSubmittingTx && l.PublishAttempt.Count == 0:
		default:
			return xerrors.Errorf("listing %s in stage %s after %d submissions: %w", id, l.Stage, l.PublishAttempt.Count, ErrTooLateToCancel)
		}
		prev = l.Clone()
		l.Status = listing.StatusPublishFailed
		l.Stage = listing.StageNone
		l.PublishAttempt.Reason = listing.ReasonCancelled
		l.PublishAttempt.LastError = "cancelled by caller"
		return nil
	})
	if err != nil {
		return err
	}

	p.lk.Lock()
	if s, ok := p.active[id]; ok {
		s.cancel()
	}
	p.lk.Unlock()

	log.Infow("publish cancelled", "listing", id)
	p.notify(prev, next, false)
	return nil
}

// IsActive reports whether a saga for id runs in this process.
func (p *Publisher) IsActive(id string) bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	_, ok := p.active[id]
	return ok
}

// Restart resumes every listing persisted in publishing. Called once at
// startup.
func (p *Publisher) Restart(ctx context.Context) error {
	ls, err := p.store.List(ctx, listing.Filter{Statuses: []listing.Status{listing.StatusPublishing}})
	if err != nil {
		return xerrors.Errorf("listing in-flight publications: %w", err)
	}

	for _, l := range ls {
		log.Infow("resuming publication", "listing", l.ID, "stage", l.Stage)
		p.startSaga(l.ID, nil)
	}
	return nil
}

// Stop cancels all running sagas and waits for them to return. Listings keep
// their last checkpoint.
func (p *Publisher) Stop(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startSaga runs the saga for id unless one is already active. A non-nil
// ready delays the first step until it is closed.
func (p *Publisher) startSaga(id string, ready <-chan struct{}) {
	p.lk.Lock()
	defer p.lk.Unlock()

	if p.ctx.Err() != nil {
		log.Warnw("publisher stopped, not starting saga", "listing", id)
		return
	}
	if s, ok := p.active[id]; ok {
		s.rerun = true
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	s := &saga{cancel: cancel}
	p.active[id] = s

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if ready != nil {
			select {
			case <-ready:
			case <-ctx.Done():
			}
		}

		for {
			p.drive(ctx, id)

			p.lk.Lock()
			if s.rerun && p.ctx.Err() == nil {
				s.rerun = false
				// a cancelled saga can be published again
				cancel()
				ctx, cancel = context.WithCancel(p.ctx)
				s.cancel = cancel
				p.lk.Unlock()
				continue
			}
			delete(p.active, id)
			p.lk.Unlock()
			cancel()
			return
		}
	}()
}
