package delivery

import (
    "context"
    "fmt"
    "time"

    "go.uber.org/multierr"
    "golang.org/x/sync/errgroup"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
    "SignalPulse/internal/domain/repository"
    "SignalPulse/internal/domain/service"
    "SignalPulse/pkg/logger"
    "SignalPulse/pkg/retry"
)

// ChannelConfig sets the per-sink retry budget.
type ChannelConfig struct {
    Retries      int
    RetryInitial time.Duration
    RetryMax     time.Duration
    Timeout      time.Duration // per send attempt
}

// Channel fans a message out to every sink. Each sink retries on its own;
// the delivery succeeds when at least one sink acknowledges.
type Channel struct {
    sinks   []service.Sink
    cfg     ChannelConfig
    metrics repository.Metrics
    logger  *logger.Logger
}

// NewChannel creates a delivery channel over sinks.
func NewChannel(sinks []service.Sink, cfg ChannelConfig, metrics repository.Metrics, lgr *logger.Logger) *Channel {
    if cfg.Timeout <= 0 {
        cfg.Timeout = 10 * time.Second
    }
    if lgr == nil {
        lgr = logger.Nop()
    }
    return &Channel{sinks: sinks, cfg: cfg, metrics: metrics, logger: lgr}
}

// Sinks lists sink names.
func (c *Channel) Sinks() []string {
    out := make([]string, len(c.sinks))
    for i, s := range c.sinks {
        out[i] = s.Name()
    }
    return out
}

// Deliver sends msg to all sinks concurrently. If every sink fails it returns
// a delivery_failed error combining the sink errors.
func (c *Channel) Deliver(ctx context.Context, msg models.Message) error {
    const op = "delivery.deliver"
    if len(c.sinks) == 0 {
        return errs.Newf(errs.KindDeliveryFailed, op, "no sinks configured")
    }

    results := make([]error, len(c.sinks))
    var g errgroup.Group
    for i, sink := range c.sinks {
        i, sink := i, sink
        g.Go(func() error {
            results[i] = c.send(ctx, sink, msg)
            return nil
        })
    }
    _ = g.Wait()

    var combined error
    acked := 0
    for i, err := range results {
        if err == nil {
            acked++
            continue
        }
        combined = multierr.Append(combined, fmt.Errorf("%s: %w", c.sinks[i].Name(), err))
    }
    if acked == 0 {
        return errs.New(errs.KindDeliveryFailed, op, combined)
    }
    if combined != nil {
        c.logger.Warn("partial delivery",
            logger.String("job", msg.JobKey),
            logger.Int("acked", acked),
            logger.Error(combined))
    }
    return nil
}

func (c *Channel) send(ctx context.Context, sink service.Sink, msg models.Message) error {
    policy := retry.Policy{MaxRetries: c.cfg.Retries, Initial: c.cfg.RetryInitial, Max: c.cfg.RetryMax}
    err := retry.Do(ctx, policy, func(ctx context.Context) error {
        actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
        defer cancel()
        return sink.Send(actx, msg)
    },
        retry.WithHint(errs.RetryAfter),
        retry.WithNotify(func(attempt int, err error, wait time.Duration) {
            c.logger.Warn("sink send failed, retrying",
                logger.String("sink", sink.Name()),
                logger.String("job", msg.JobKey),
                logger.Int("attempt", attempt),
                logger.Duration("wait", wait),
                logger.Error(err))
        }),
    )
    if c.metrics != nil {
        c.metrics.RecordDelivery(sink.Name(), msg.Kind, err == nil)
    }
    return err
}
