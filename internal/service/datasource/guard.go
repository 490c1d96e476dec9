package datasource

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/repository"
	"SignalPulse/internal/service/ratelimit"
	"SignalPulse/pkg/logger"
)

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	MaxFailures      uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// Guard wraps a DataSource with a rate limiter and a circuit breaker.
type Guard struct {
	inner   repository.DataSource
	cb      *gobreaker.CircuitBreaker
	limiter *ratelimit.Limiter
}

// NewGuard decorates inner. Throttling, missing data and cancellations do not
// count as breaker failures.
func NewGuard(inner repository.DataSource, limiter *ratelimit.Limiter, cfg BreakerConfig, lgr *logger.Logger) *Guard {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        inner.Kind(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch errs.KindOf(err) {
			case errs.KindRateLimited, errs.KindDataUnavailable, errs.KindCancelled:
				return true
			}
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lgr.Warn("provider breaker state changed",
				logger.String("provider", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	}
	return &Guard{inner: inner, cb: gobreaker.NewCircuitBreaker(st), limiter: limiter}
}

func (g *Guard) Kind() string { return g.inner.Kind() }

func (g *Guard) Intervals() []string { return g.inner.Intervals() }

// State exposes the breaker state for status reporting.
func (g *Guard) State() string { return g.cb.State().String() }

func (g *Guard) admit(ctx context.Context, op string) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx, g.inner.Kind()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errs.New(errs.KindOf(ctxErr), op, ctxErr)
		}
		// the wait would outlive the deadline
		return errs.New(errs.KindTimeout, op, err)
	}
	return nil
}

func (g *Guard) FetchCandles(ctx context.Context, symbol, interval string, count int) (models.CandleWindow, error) {
	op := g.inner.Kind() + ".fetch_candles"
	if err := g.admit(ctx, op); err != nil {
		return models.CandleWindow{}, err
	}
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.FetchCandles(ctx, symbol, interval, count)
	})
	if err != nil {
		return models.CandleWindow{}, breakerErr(op, err)
	}
	return res.(models.CandleWindow), nil
}

func (g *Guard) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	op := g.inner.Kind() + ".current_price"
	if err := g.admit(ctx, op); err != nil {
		return 0, err
	}
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.CurrentPrice(ctx, symbol)
	})
	if err != nil {
		return 0, breakerErr(op, err)
	}
	return res.(float64), nil
}

func breakerErr(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.New(errs.KindProvider, op, err)
	}
	return err
}
