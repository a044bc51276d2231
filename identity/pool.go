package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-varint"
	"github.com/samber/lo"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/metrics"
)

var log = logging.Logger("identity")

var ErrNoIdentityAvailable = errors.New("no signing identity available")

var ErrLeaseReleased = errors.New("identity lease already released")

// Identity is a snapshot of one signing identity.
type Identity struct {
	Address      string
	NextSequence uint64
	InUse        bool
}

// Resolver maps a seller to the address that signs its registrations.
type Resolver interface {
	AddressFor(ctx context.Context, sellerID string) (string, bool, error)
}

// StaticResolver is a fixed seller -> address table.
type StaticResolver map[string]string

func (r StaticResolver) AddressFor(_ context.Context, sellerID string) (string, bool, error) {
	a, ok := r[sellerID]
	return a, ok, nil
}

// SequenceSource reports the next sequence the ledger expects from an
// address. ledger.Client implements it.
type SequenceSource interface {
	NextSequence(ctx context.Context, address string) (uint64, error)
}

type slot struct {
	addr  string
	seq   uint64
	inUse bool
}

// Pool hands out signing identities so that no two in-flight submissions
// share one.
type Pool struct {
	ds       datastore.Datastore
	resolver Resolver
	timeout  time.Duration

	lk     sync.Mutex
	slots  []*slot
	byAddr map[string]int
	cursor int
	// closed and replaced whenever a lease is released
	released chan struct{}
}

func NewPool(ctx context.Context, ds datastore.Datastore, addrs []string, resolver Resolver, acquireTimeout time.Duration) (*Pool, error) {
	if len(addrs) == 0 {
		return nil, xerrors.New("identity pool needs at least one address")
	}
	if resolver == nil {
		resolver = StaticResolver{}
	}

	p := &Pool{
		ds:       namespace.Wrap(ds, datastore.NewKey("/identity/seq")),
		resolver: resolver,
		timeout:  acquireTimeout,
		byAddr:   map[string]int{},
		released: make(chan struct{}),
	}

	for _, a := range addrs {
		if _, dup := p.byAddr[a]; dup {
			return nil, xerrors.Errorf("duplicate identity address %s", a)
		}
		seq, err := p.loadSeq(ctx, a)
		if err != nil {
			return nil, err
		}
		p.byAddr[a] = len(p.slots)
		p.slots = append(p.slots, &slot{addr: a, seq: seq})
	}

	return p, nil
}

func (p *Pool) loadSeq(ctx context.Context, addr string) (uint64, error) {
	b, err := p.ds.Get(ctx, datastore.NewKey(addr))
	if errors.Is(err, datastore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Errorf("loading sequence of %s: %w", addr, err)
	}
	seq, _, err := varint.FromUvarint(b)
	if err != nil {
		return 0, xerrors.Errorf("decoding sequence of %s: %w", addr, err)
	}
	return seq, nil
}

func (p *Pool) storeSeq(ctx context.Context, addr string, seq uint64) error {
	return p.ds.Put(ctx, datastore.NewKey(addr), varint.ToUvarint(seq))
}

func (p *Pool) eligible(ctx context.Context, sellerID string) ([]int, error) {
	addr, ok, err := p.resolver.AddressFor(ctx, sellerID)
	if err != nil {
		return nil, xerrors.Errorf("resolving seller %s: %w", sellerID, err)
	}
	if ok {
		if i, found := p.byAddr[addr]; found {
			return []int{i}, nil
		}
		log.Debugw("seller address not in pool, using any identity", "seller", sellerID, "address", addr)
	}
	return lo.Range(len(p.slots)), nil
}

// tryTake must be called with lk held.
func (p *Pool) tryTake(eligible []int) *slot {
	n := len(p.slots)
	for off := 0; off < n; off++ {
		i := (p.cursor + off) % n
		if !lo.Contains(eligible, i) || p.slots[i].inUse {
			continue
		}
		p.slots[i].inUse = true
		p.cursor = (i + 1) % n
		return p.slots[i]
	}
	return nil
}

// Acquire leases a free identity eligible for sellerID, waiting up to the
// pool's acquire timeout for one to be released.
func (p *Pool) Acquire(ctx context.Context, sellerID string) (*Lease, error) {
	eligible, err := p.eligible(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	start := build.Clock.Now()
	deadline := build.Clock.Timer(p.timeout)
	defer deadline.Stop()

	for {
		p.lk.Lock()
		s := p.tryTake(eligible)
		wait := p.released
		p.lk.Unlock()

		if s != nil {
			stats.Record(metrics.Tagged(ctx, metrics.Outcome, "acquired"), metrics.IdentityWait.M(metrics.SinceInMilliseconds(start)))
			log.Debugw("identity leased", "address", s.addr, "seller", sellerID, "sequence", s.seq)
			return &Lease{pool: p, slot: s}, nil
		}

		select {
		case <-wait:
		case <-deadline.C:
			stats.Record(metrics.Tagged(ctx, metrics.Outcome, "timeout"), metrics.IdentityWait.M(metrics.SinceInMilliseconds(start)))
			return nil, xerrors.Errorf("waited %s for seller %s: %w", p.timeout, sellerID, ErrNoIdentityAvailable)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) release(s *slot) {
	p.lk.Lock()
	defer p.lk.Unlock()

	s.inUse = false
	close(p.released)
	p.released = make(chan struct{})
}

// Sync raises every local sequence to the one the ledger expects. Local
// sequences are never lowered: submissions the ledger has not yet seen keep
// their numbers.
func (p *Pool) Sync(ctx context.Context, src SequenceSource) error {
	p.lk.Lock()
	defer p.lk.Unlock()

	for _, s := range p.slots {
		remote, err := src.NextSequence(ctx, s.addr)
		if err != nil {
			return xerrors.Errorf("getting ledger sequence of %s: %w", s.addr, err)
		}
		if remote <= s.seq {
			continue
		}
		if err := p.storeSeq(ctx, s.addr, remote); err != nil {
			return xerrors.Errorf("persisting sequence of %s: %w", s.addr, err)
		}
		log.Infow("raised identity sequence from ledger", "address", s.addr, "local", s.seq, "ledger", remote)
		s.seq = remote
	}
	return nil
}

func (p *Pool) Identities() []Identity {
	p.lk.Lock()
	defer p.lk.Unlock()

	return lo.Map(p.slots, func(s *slot, _ int) Identity {
		return Identity{Address: s.addr, NextSequence: s.seq, InUse: s.inUse}
	})
}

// Lease is exclusive use of one identity until Release.
type Lease struct {
	pool *Pool
	slot *slot
	once sync.Once

	lk   sync.Mutex
	done bool
}

var _ ledger.Signer = (*Lease)(nil)

func (l *Lease) Address() string {
	return l.slot.addr
}

func (l *Lease) Sequence() uint64 {
	l.pool.lk.Lock()
	defer l.pool.lk.Unlock()
	return l.slot.seq
}

// Advance moves the identity to its next sequence. Ledger clients call it
// once the ledger accepted a submission signed with Sequence.
func (l *Lease) Advance(ctx context.Context) error {
	l.lk.Lock()
	defer l.lk.Unlock()
	if l.done {
		return ErrLeaseReleased
	}

	l.pool.lk.Lock()
	defer l.pool.lk.Unlock()

	next := l.slot.seq + 1
	if err := l.pool.storeSeq(ctx, l.slot.addr, next); err != nil {
		return xerrors.Errorf("persisting sequence of %s: %w", l.slot.addr, err)
	}
	l.slot.seq = next
	return nil
}

func (l *Lease) Release() {
	l.once.Do(func() {
		l.lk.Lock()
		l.done = true
		l.lk.Unlock()
		l.pool.release(l.slot)
	})
}

// Resync raises the leased identity's sequence to the ledger's view. Used
// after a submission whose outcome is unknown: the ledger may have accepted
// it without the caller seeing the response.
func (l *Lease) Resync(ctx context.Context, src SequenceSource) error {
	remote, err := src.NextSequence(ctx, l.slot.addr)
	if err != nil {
		return xerrors.Errorf("getting ledger sequence of %s: %w", l.slot.addr, err)
	}

	l.pool.lk.Lock()
	defer l.pool.lk.Unlock()

	if remote <= l.slot.seq {
		return nil
	}
	if err := l.pool.storeSeq(ctx, l.slot.addr, remote); err != nil {
		return xerrors.Errorf("persisting sequence of %s: %w", l.slot.addr, err)
	}
	log.Warnw("identity sequence behind ledger, raised", "address", l.slot.addr, "local", l.slot.seq, "ledger", remote)
	l.slot.seq = remote
	return nil
}
