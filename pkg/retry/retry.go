// Package retry runs an operation with capped exponential backoff. Errors may
// carry a retry-after hint that stretches the next wait, or be marked permanent
// to stop immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. MaxRetries counts retries after the first attempt.
type Policy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Hinted is implemented by errors that know how long to wait before the next try.
type Hinted interface {
	RetryAfter() time.Duration
}

// HintFunc extracts a retry-after hint from an error chain.
type HintFunc func(err error) (time.Duration, bool)

// NotifyFunc observes each failed attempt before waiting.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Option customises Do.
type Option func(*options)

type options struct {
	hint   HintFunc
	notify NotifyFunc
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithHint sets how retry-after hints are read from errors.
func WithHint(fn HintFunc) Option {
	return func(o *options) { o.hint = fn }
}

// WithNotify sets an attempt observer.
func WithNotify(fn NotifyFunc) Option {
	return func(o *options) { o.notify = fn }
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// NewBackOff builds the delay sequence for p without jitter unless p.Jitter is set.
// The sequence never stops on elapsed time.
func NewBackOff(p Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	} else {
		b.Multiplier = 2
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls op until it succeeds, returns a permanent error, the retry budget is
// spent, or ctx is done. The last operation error is returned, unwrapped from any
// permanent marker. ctx.Err() is returned only when ctx ends before the first try.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, opts ...Option) error {
	o := options{hint: hintFromChain, sleep: sleepCtx}
	for _, opt := range opts {
		opt(&o)
	}

	b := NewBackOff(p)
	if err := ctx.Err(); err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt >= p.MaxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		wait := b.NextBackOff()
		if hint, ok := o.hint(err); ok && hint > wait {
			wait = hint
		}
		if o.notify != nil {
			o.notify(attempt+1, err, wait)
		}
		if serr := o.sleep(ctx, wait); serr != nil {
			return err
		}
	}
}

func hintFromChain(err error) (time.Duration, bool) {
	var h Hinted
	if errors.As(err, &h) {
		d := h.RetryAfter()
		return d, d > 0
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
