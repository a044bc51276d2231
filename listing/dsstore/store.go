// Package dsstore keeps listings in a go-datastore namespace. Records are
// JSON encoded; a store-wide lock serialises the version check and the
// write.
package dsstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/listing"
)

type Store struct {
	lk sync.Mutex

	ds datastore.Batching
}

var _ listing.Store = (*Store)(nil)

func New(ds datastore.Batching) *Store {
	return &Store{
		ds: namespace.Wrap(ds, datastore.NewKey("/listings/")),
	}
}

func dskey(id string) datastore.Key {
	return datastore.NewKey(id)
}

func (s *Store) get(ctx context.Context, id string) (*listing.Listing, error) {
	b, err := s.ds.Get(ctx, dskey(id))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, xerrors.Errorf("listing %s: %w", id, listing.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var l listing.Listing
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, xerrors.Errorf("decoding listing %s: %w", id, err)
	}
	return &l, nil
}

func (s *Store) put(ctx context.Context, l *listing.Listing) error {
	b, err := json.Marshal(l)
	if err != nil {
		return xerrors.Errorf("encoding listing %s: %w", l.ID, err)
	}
	return s.ds.Put(ctx, dskey(l.ID), b)
}

func (s *Store) Create(ctx context.Context, l *listing.Listing) error {
	if err := listing.Check(l); err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	has, err := s.ds.Has(ctx, dskey(l.ID))
	if err != nil {
		return err
	}
	if has {
		return xerrors.Errorf("listing %s: %w", l.ID, listing.ErrAlreadyExists)
	}

	stored := l.Clone()
	stored.Version = 1
	if err := s.put(ctx, stored); err != nil {
		return err
	}
	l.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*listing.Listing, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	return s.get(ctx, id)
}

func (s *Store) Update(ctx context.Context, l *listing.Listing) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	prev, err := s.get(ctx, l.ID)
	if err != nil {
		return err
	}
	if prev.Version != l.Version {
		return xerrors.Errorf("listing %s at version %d, update read %d: %w", l.ID, prev.Version, l.Version, listing.ErrVersionConflict)
	}
	if err := listing.CheckUpdate(prev, l); err != nil {
		return err
	}

	next := l.Clone()
	next.Version = prev.Version + 1
	next.UpdatedAt = build.Clock.Now()
	if err := s.put(ctx, next); err != nil {
		return err
	}

	l.Version = next.Version
	l.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *Store) Delete(ctx context.Context, id string, version uint64) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	prev, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if prev.Version != version {
		return xerrors.Errorf("listing %s at version %d: %w", id, prev.Version, listing.ErrVersionConflict)
	}
	if prev.Status != listing.StatusDraft {
		return xerrors.Errorf("cannot delete listing in status %s: %w", prev.Status, listing.ErrInvalidUpdate)
	}
	return s.ds.Delete(ctx, dskey(id))
}

func (s *Store) List(ctx context.Context, f listing.Filter) ([]*listing.Listing, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	res, err := s.ds.Query(ctx, dsq.Query{})
	if err != nil {
		return nil, err
	}
	defer res.Close() //nolint:errcheck

	ents, err := res.Rest()
	if err != nil {
		return nil, err
	}

	var out []*listing.Listing
	for _, e := range ents {
		var l listing.Listing
		if err := json.Unmarshal(e.Value, &l); err != nil {
			return nil, xerrors.Errorf("decoding listing at %s: %w", e.Key, err)
		}
		if f.Match(&l) {
			out = append(out, &l)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close is a no-op; the underlying datastore is owned by the caller.
func (s *Store) Close() error {
	return nil
}
