// Package memledger is an in-process registry ledger. It enforces per-address
// sequences and rejects a second live registration for one dedupe key, so it
// behaves like the real registry contract for everything the publisher
// relies on.
package memledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/ledger"
)

var log = logging.Logger("memledger")

type tx struct {
	ref      ledger.TxRef
	key      ledger.DedupeKey
	from     string
	nonce    uint64
	payload  ledger.Registration
	included uint64
	failed   string
}

type Ledger struct {
	info       ledger.Info
	confidence uint64

	lk      sync.Mutex
	height  uint64
	txs     map[ledger.TxRef]*tx
	order   []ledger.TxRef
	byKey   map[ledger.DedupeKey][]ledger.TxRef
	nonces  map[string]uint64
	failN   int
	failErr error
	calls   int
}

var _ ledger.Client = (*Ledger)(nil)

// New creates a ledger where a transaction counts as confirmed once it is
// buried under confidence blocks, including its own.
func New(info ledger.Info, confidence uint64) *Ledger {
	if confidence == 0 {
		confidence = 1
	}
	return &Ledger{
		info:       info,
		confidence: confidence,
		txs:        map[ledger.TxRef]*tx{},
		byKey:      map[ledger.DedupeKey][]ledger.TxRef{},
		nonces:     map[string]uint64{},
	}
}

func (l *Ledger) Info() ledger.Info {
	return l.info
}

func (l *Ledger) Submit(ctx context.Context, key ledger.DedupeKey, signer ledger.Signer, payload ledger.Registration) (ledger.TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", &ledger.UnavailableError{Reason: err.Error()}
	}

	ref, err := l.submit(key, signer.Address(), signer.Sequence(), payload)
	if err != nil {
		return "", err
	}

	if err := signer.Advance(ctx); err != nil {
		// the pool catches up from NextSequence on the next start
		log.Errorw("advancing signer sequence", "address", signer.Address(), "tx", ref, "error", err)
	}
	return ref, nil
}

func (l *Ledger) submit(key ledger.DedupeKey, from string, nonce uint64, payload ledger.Registration) (ledger.TxRef, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	l.calls++
	if l.failN > 0 {
		l.failN--
		return "", l.failErr
	}

	if want := l.nonces[from]; nonce != want {
		return "", &ledger.RejectedError{Reason: fmt.Sprintf("bad sequence for %s: expected %d, got %d", from, want, nonce)}
	}
	for _, r := range l.byKey[key] {
		if l.txs[r].failed == "" {
			return "", &ledger.RejectedError{Reason: fmt.Sprintf("listing %s already registered in %s", payload.ListingID, r)}
		}
	}

	t := &tx{
		ref:     ledger.TxRef(fmt.Sprintf("tx%d", len(l.order)+1)),
		key:     key,
		from:    from,
		nonce:   nonce,
		payload: payload,
	}
	l.txs[t.ref] = t
	l.order = append(l.order, t.ref)
	l.byKey[key] = append(l.byKey[key], t.ref)
	l.nonces[from] = nonce + 1

	log.Debugw("accepted registration", "tx", t.ref, "listing", payload.ListingID, "from", from, "nonce", nonce)
	return t.ref, nil
}

func (l *Ledger) FindByDedupeKey(ctx context.Context, key ledger.DedupeKey) (ledger.TxRef, bool, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	refs := l.byKey[key]
	if len(refs) == 0 {
		return "", false, nil
	}
	return refs[len(refs)-1], true, nil
}

func (l *Ledger) GetStatus(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	t, ok := l.txs[ref]
	if !ok {
		return ledger.TxStatus{}, &ledger.NotFoundError{Ref: ref}
	}
	switch {
	case t.failed != "":
		return ledger.TxStatus{State: ledger.TxFailed, Reason: t.failed}, nil
	case t.included == 0 || l.height-t.included+1 < l.confidence:
		return ledger.TxStatus{State: ledger.TxPending}, nil
	default:
		return ledger.TxStatus{State: ledger.TxConfirmed, BlockNumber: t.included}, nil
	}
}

func (l *Ledger) NextSequence(ctx context.Context, address string) (uint64, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	return l.nonces[address], nil
}

// Mine produces a block including every pending transaction and returns its
// height.
func (l *Ledger) Mine() uint64 {
	l.lk.Lock()
	defer l.lk.Unlock()

	l.height++
	n := 0
	for _, r := range l.order {
		t := l.txs[r]
		if t.included == 0 && t.failed == "" {
			t.included = l.height
			n++
		}
	}
	if n > 0 {
		log.Debugw("mined block", "height", l.height, "txs", n)
	}
	return l.height
}

func (l *Ledger) Height() uint64 {
	l.lk.Lock()
	defer l.lk.Unlock()
	return l.height
}

// SetHeight moves the chain head without including anything.
func (l *Ledger) SetHeight(h uint64) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.height = h
}

// Run mines a block every blockTime until ctx is done.
func (l *Ledger) Run(ctx context.Context, blockTime time.Duration) {
	tick := build.Clock.Ticker(blockTime)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			l.Mine()
		case <-ctx.Done():
			return
		}
	}
}

// FailSubmits makes the next n Submit calls fail with err.
func (l *Ledger) FailSubmits(n int, err error) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.failN = n
	l.failErr = err
}

// Reject marks a not yet included transaction as failed.
func (l *Ledger) Reject(ref ledger.TxRef, reason string) error {
	l.lk.Lock()
	defer l.lk.Unlock()

	t, ok := l.txs[ref]
	if !ok {
		return &ledger.NotFoundError{Ref: ref}
	}
	if t.included != 0 {
		return fmt.Errorf("transaction %s already included at %d", ref, t.included)
	}
	t.failed = reason
	return nil
}

// Pending returns the number of transactions waiting for a block.
func (l *Ledger) Pending() int {
	l.lk.Lock()
	defer l.lk.Unlock()

	n := 0
	for _, t := range l.txs {
		if t.included == 0 && t.failed == "" {
			n++
		}
	}
	return n
}

// Registrations returns the number of accepted registrations.
func (l *Ledger) Registrations() int {
	l.lk.Lock()
	defer l.lk.Unlock()
	return len(l.order)
}

// SubmitCalls returns the number of Submit calls, failed ones included.
func (l *Ledger) SubmitCalls() int {
	l.lk.Lock()
	defer l.lk.Unlock()
	return l.calls
}

// Registration returns the payload of ref.
func (l *Ledger) Registration(ref ledger.TxRef) (ledger.Registration, bool) {
	l.lk.Lock()
	defer l.lk.Unlock()
	t, ok := l.txs[ref]
	if !ok {
		return ledger.Registration{}, false
	}
	return t.payload, true
}
