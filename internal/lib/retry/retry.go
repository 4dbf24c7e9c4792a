package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ordersync/entity"
)

// Policy is an exponential backoff bounded by a wall-clock budget, not a retry count.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
	Multiplier float64
	Jitter     float64
	// Retriable decides whether an error is worth another attempt; entity.IsRetriable when nil
	Retriable func(error) bool
}

// Default starts at one second and doubles up to twenty, giving up after two minutes.
func Default() Policy {
	return Policy{
		Initial:    time.Second,
		Max:        20 * time.Second,
		MaxElapsed: 2 * time.Minute,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// WithBudget returns a copy of the policy with another elapsed-time budget.
func (p Policy) WithBudget(budget time.Duration) Policy {
	if budget > 0 {
		p.MaxElapsed = budget
	}
	return p
}

// DelayHint is implemented by errors that carry the wait the remote side asked
// for, such as a Retry-After header.
type DelayHint interface {
	RetryDelay() time.Duration
}

// hinted stretches the next wait to the delay requested by the last error.
type hinted struct {
	backoff.BackOff
	last *error
}

func (h hinted) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop || *h.last == nil {
		return next
	}
	var hint DelayHint
	if errors.As(*h.last, &hint) && hint.RetryDelay() > next {
		return hint.RetryDelay()
	}
	return next
}

func (p Policy) backOff(ctx context.Context, last *error) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.MaxElapsedTime = p.MaxElapsed
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	return backoff.WithContext(hinted{BackOff: b, last: last}, ctx)
}

// Do runs op until it succeeds, returns a non-retriable error, the budget is spent
// or the context is done. A wait is never shorter than the DelayHint of the
// last error. notify is called before every wait and may be nil.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify func(err error, wait time.Duration)) error {
	retriable := p.Retriable
	if retriable == nil {
		retriable = entity.IsRetriable
	}

	var last error
	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err
		if !retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(attempt, p.backOff(ctx, &last), notify)
	if err != nil && last != nil && errors.Is(err, ctx.Err()) {
		// report what the source said rather than the bare cancellation
		return errors.Join(err, last)
	}
	return err
}
