package listing

import (
	"context"
	"errors"

	"golang.org/x/xerrors"
)

// ErrNoChange can be returned by a Mutate callback to skip the write.
var ErrNoChange = errors.New("no change")

const maxMutateAttempts = 16

// Mutate applies fn to the latest version of a listing and writes it back,
// re-reading and re-applying on version conflicts. fn must be free of side
// effects other than changes to the listing it is given.
func Mutate(ctx context.Context, s Store, id string, fn func(*Listing) error) (*Listing, error) {
	for i := 0; i < maxMutateAttempts; i++ {
		l, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(l); err != nil {
			if errors.Is(err, ErrNoChange) {
				return l, nil
			}
			return nil, err
		}
		err = s.Update(ctx, l)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, xerrors.Errorf("listing %s: %w", id, ErrVersionConflict)
}
