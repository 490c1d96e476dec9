package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	"SignalPulse/pkg/queue"
)

// TriggerJobType is the queue message type of a queued pipeline run.
const TriggerJobType = "signal.run"

// Runner is the part of the scheduler a trigger needs.
type Runner interface {
	RunOnce(ctx context.Context, symbol, interval string, opts RunOptions) (*models.RunOnceResult, error)
}

// TriggerJob runs queued webhook triggers. Throttled runs are retried after
// the provider's hint; bad input is dead-lettered at once.
type TriggerJob struct {
	runner Runner
}

func NewTriggerJob(runner Runner) *TriggerJob {
	return &TriggerJob{runner: runner}
}

func (t *TriggerJob) Name() string { return "signal-trigger" }

func (t *TriggerJob) Type() string { return TriggerJobType }

func (t *TriggerJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[models.TriggerPayload](payload)
	if err != nil {
		return queue.Permanent(err)
	}
	trigger := p.Source
	if trigger == "" {
		trigger = models.TriggerWebhook
	}

	_, err = t.runner.RunOnce(ctx, p.Symbol, p.Interval, RunOptions{
		Provider:    p.Provider,
		ContextLink: p.Link,
		Trigger:     trigger,
	})
	if err == nil {
		return nil
	}

	err = fmt.Errorf("run %s %s: %w", p.Symbol, p.Interval, err)
	switch {
	case errs.KindOf(err) == errs.KindConfig:
		return queue.Permanent(err)
	case errs.IsRateLimited(err):
		if hint, ok := errs.RetryAfter(err); ok {
			return queue.RetryAfter(err, hint)
		}
	}
	return err
}
