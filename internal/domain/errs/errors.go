package errs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindDataUnavailable       Kind = "data_unavailable"
	KindRateLimited           Kind = "rate_limited"
	KindProvider              Kind = "provider_error"
	KindInsufficientData      Kind = "insufficient_data"
	KindClassifierTimeout     Kind = "classifier_timeout"
	KindClassifierRateLimited Kind = "classifier_rate_limited"
	KindClassifier            Kind = "classifier_error"
	KindDeliveryFailed        Kind = "delivery_failed"
	KindTimeout               Kind = "timeout"
	KindCancelled             Kind = "cancelled"
	KindConfig                Kind = "config_error"
	KindUnknown               Kind = "unknown"
)

// Sentinels match any *Error of the same kind through errors.Is.
var (
	ErrDataUnavailable       = &Error{Kind: KindDataUnavailable}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
	ErrProvider              = &Error{Kind: KindProvider}
	ErrInsufficientData      = &Error{Kind: KindInsufficientData}
	ErrClassifierTimeout     = &Error{Kind: KindClassifierTimeout}
	ErrClassifierRateLimited = &Error{Kind: KindClassifierRateLimited}
	ErrClassifier            = &Error{Kind: KindClassifier}
	ErrDeliveryFailed        = &Error{Kind: KindDeliveryFailed}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrCancelled             = &Error{Kind: KindCancelled}
	ErrConfig                = &Error{Kind: KindConfig}
)

// Error is the single error type of the taxonomy.
type Error struct {
	Kind       Kind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New builds a taxonomy error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a taxonomy error from a format string.
func Newf(kind Kind, op string, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, a...)}
}

// RateLimited builds a rate_limited error carrying a retry-after hint.
func RateLimited(op string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, RetryAfter: retryAfter, Err: err}
}

// Config builds a config_error.
func Config(format string, a ...interface{}) *Error {
	return &Error{Kind: KindConfig, Op: "config", Err: fmt.Errorf(format, a...)}
}

// KindOf returns the outermost taxonomy kind of err. Bare context errors map to
// timeout and cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindUnknown
}

// RetryAfter returns the largest retry-after hint found in err's tree,
// including every branch of combined errors.
func RetryAfter(err error) (time.Duration, bool) {
	best := largestHint(err)
	return best, best > 0
}

func largestHint(err error) time.Duration {
	var best time.Duration
	for err != nil {
		if e, ok := err.(*Error); ok && e.RetryAfter > best {
			best = e.RetryAfter
		}
		if multi, ok := err.(interface{ Unwrap() []error }); ok {
			for _, branch := range multi.Unwrap() {
				if d := largestHint(branch); d > best {
					best = d
				}
			}
			return best
		}
		err = errors.Unwrap(err)
	}
	return best
}

// IsRateLimited reports whether err is a data or classifier throttling error.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrClassifierRateLimited)
}
