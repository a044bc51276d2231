package retry

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
)

var log = logging.Logger("retry")

// Policy bounds a retry loop. Zero values fall back to the backoff defaults
// (100ms min, 10s max, factor 2).
type Policy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	Factor   float64
	Jitter   bool
}

// ExhaustedError is returned when a retryable error survives every attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return xerrors.Errorf("giving up after %d attempts: %w", e.Attempts, e.Err).Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls f until it succeeds, returns an error retryable rejects, the
// policy runs out of attempts or ctx is done. The attempt number passed to f
// starts at 1. A nil retryable retries every error.
func Do[T any](ctx context.Context, pol Policy, retryable func(error) bool, f func(attempt int) (T, error)) (T, error) {
	b := &backoff.Backoff{
		Min:    pol.Min,
		Max:    pol.Max,
		Factor: pol.Factor,
		Jitter: pol.Jitter,
	}

	attempts := pol.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		res T
		err error
	)
	for attempt := 1; ; attempt++ {
		res, err = f(attempt)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if retryable != nil && !retryable(err) {
			return res, err
		}
		if attempt >= attempts {
			log.Warnw("retries exhausted", "attempts", attempt, "error", err)
			return res, &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := b.Duration()
		log.Debugw("retrying after error", "attempt", attempt, "wait", wait, "error", err)

		t := build.Clock.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return res, ctx.Err()
		case <-t.C:
		}
	}
}
