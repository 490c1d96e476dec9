package classifier

import (
    "context"
    "errors"
    "time"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
    "SignalPulse/internal/domain/service"
    "SignalPulse/pkg/logger"
    "SignalPulse/pkg/retry"
)

// RetryConfig bounds the Retrying wrapper.
type RetryConfig struct {
    RequestTimeout time.Duration
    MaxRetries     int
    Initial        time.Duration
    Max            time.Duration
}

// Retrying adds a per-attempt timeout and bounded exponential retries to a
// classifier. Retry-after hints from rate limiting stretch the wait.
type Retrying struct {
    inner  service.Classifier
    cfg    RetryConfig
    logger *logger.Logger
    now    func() time.Time
}

// NewRetrying wraps inner.
func NewRetrying(inner service.Classifier, cfg RetryConfig, lgr *logger.Logger) *Retrying {
    if cfg.RequestTimeout <= 0 {
        cfg.RequestTimeout = 30 * time.Second
    }
    if cfg.MaxRetries < 0 {
        cfg.MaxRetries = 0
    }
    if lgr == nil {
        lgr = logger.Nop()
    }
    return &Retrying{inner: inner, cfg: cfg, logger: lgr, now: time.Now}
}

func (r *Retrying) Name() string { return r.inner.Name() }

// Classify returns the first valid signal or the last classified error once
// retries are spent. Cancellation of ctx ends the loop without further tries.
func (r *Retrying) Classify(ctx context.Context, req models.ClassifyRequest) (*models.Signal, error) {
    const op = "classifier.classify"
    var out *models.Signal
    start := r.now()

    policy := retry.Policy{MaxRetries: r.cfg.MaxRetries, Initial: r.cfg.Initial, Max: r.cfg.Max}
    opts := []retry.Option{
        retry.WithHint(errs.RetryAfter),
        retry.WithNotify(func(attempt int, err error, wait time.Duration) {
            r.logger.Warn("classifier attempt failed",
                logger.String("classifier", r.inner.Name()),
                logger.String("symbol", req.Symbol),
                logger.String("interval", req.Interval),
                logger.Int("attempt", attempt),
                logger.String("kind", string(errs.KindOf(err))),
                logger.Duration("wait", wait),
                logger.Error(err))
        }),
    }

    err := retry.Do(ctx, policy, func(ctx context.Context) error {
        sig, err := r.attempt(ctx, req)
        if err != nil {
            return err
        }
        out = sig
        return nil
    }, opts...)
    if err != nil {
        if perr := ctx.Err(); perr != nil {
            return nil, parentError(op, perr)
        }
        return nil, err
    }

    if out.Symbol == "" {
        out.Symbol = req.Symbol
    }
    if out.Interval == "" {
        out.Interval = req.Interval
    }
    if out.Price == 0 {
        out.Price = req.Price
    }
    if out.Model == "" {
        out.Model = r.inner.Name()
    }
    end := r.now()
    out.GeneratedAt = end.UTC()
    out.LatencyMs = end.Sub(start).Milliseconds()
    return out, nil
}

func (r *Retrying) attempt(parent context.Context, req models.ClassifyRequest) (*models.Signal, error) {
    const op = "classifier.attempt"
    ctx, cancel := context.WithTimeout(parent, r.cfg.RequestTimeout)
    defer cancel()

    sig, err := r.inner.Classify(ctx, req)
    if perr := parent.Err(); perr != nil {
        return nil, retry.Permanent(parentError(op, perr))
    }
    if err != nil {
        if errors.Is(ctx.Err(), context.DeadlineExceeded) {
            return nil, errs.New(errs.KindClassifierTimeout, op, err)
        }
        switch errs.KindOf(err) {
        case errs.KindClassifier, errs.KindClassifierTimeout, errs.KindClassifierRateLimited:
            return nil, err
        }
        return nil, errs.New(errs.KindClassifier, op, err)
    }
    if !sig.Valid() {
        return nil, errs.Newf(errs.KindClassifier, op, "invalid signal direction=%q confidence=%v", sig.Direction, sig.Confidence)
    }
    return sig, nil
}

func parentError(op string, err error) error {
    if errors.Is(err, context.DeadlineExceeded) {
        return errs.New(errs.KindTimeout, op, err)
    }
    return errs.New(errs.KindCancelled, op, err)
}
