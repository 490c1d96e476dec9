package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	drepo "SignalPulse/internal/domain/repository"
	"SignalPulse/pkg/logger"
	"SignalPulse/pkg/retry"
	"SignalPulse/pkg/util"
)

// job is one scheduled (symbol, interval, provider) pipeline. The gate is a
// one-slot semaphore: whoever holds it is the only run of this job.
type job struct {
	spec     models.AssetJobSpec
	every    time.Duration
	schedule cron.Schedule
	gate     chan struct{}
	logger   *logger.Logger

	mu        sync.Mutex
	memory    drepo.JobMemory
	failures  int
	lastKind  errs.Kind
	backoff   *backoff.ExponentialBackOff
	delay     time.Duration
	threshold int
	published published
	hbTry     time.Time // last failed standalone heartbeat
}

// published is the last state the scheduler reported for the job outside a
// run, restored when a run ends.
type published struct {
	state models.JobState
	next  time.Time
	delay time.Duration
}

func newJob(spec models.AssetJobSpec, policy retry.Policy, threshold int, lgr *logger.Logger) (*job, error) {
	every, err := util.ParseInterval(spec.Interval)
	if err != nil {
		return nil, errs.Config("job %s: %v", spec.Key(), err)
	}
	j := &job{
		spec:      spec,
		every:     every,
		gate:      make(chan struct{}, 1),
		backoff:   retry.NewBackOff(policy),
		threshold: threshold,
		published: published{state: models.JobStopped},
		logger: lgr.With(
			logger.String("job", spec.Key()),
			logger.String("symbol", spec.Symbol),
			logger.String("interval", spec.Interval),
			logger.String("provider", spec.Provider),
		),
	}
	if j.threshold < 1 {
		j.threshold = 1
	}
	if spec.Cron != "" {
		sched, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			return nil, errs.Config("job %s: cron %q: %v", spec.Key(), spec.Cron, err)
		}
		j.schedule = sched
	}
	return j, nil
}

// acquire takes the gate or gives up when ctx ends.
func (j *job) acquire(ctx context.Context) error {
	select {
	case j.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *job) release() { <-j.gate }

// nextFire is the next regular fire time after now. A cron schedule wins over
// alignment; free-running jobs fire one interval after the previous fire.
func (j *job) nextFire(now, prev time.Time, align bool) time.Time {
	switch {
	case j.schedule != nil:
		return j.schedule.Next(now)
	case align:
		return util.NextBoundary(now, j.every)
	case prev.IsZero():
		return now.Add(j.every)
	default:
		next := prev.Add(j.every)
		if next.Before(now) {
			next = now
		}
		return next
	}
}

// settle updates the failure streak and backoff after a run and returns the
// backoff delay, zero meaning the regular schedule. Cancelled runs leave the
// state untouched.
func (j *job) settle(outcome models.Outcome, err error) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch outcome {
	case models.OutcomeSuccess:
		j.failures = 0
		j.lastKind = ""
		j.delay = 0
		j.backoff.Reset()
		return 0
	case models.OutcomeCancelled:
		return j.delay
	}

	j.failures++
	j.lastKind = errs.KindOf(err)
	if j.failures < j.threshold {
		j.delay = 0
		return 0
	}
	d := j.backoff.NextBackOff()
	if hint, ok := errs.RetryAfter(err); ok && hint > d {
		d = hint
	}
	j.delay = d
	return d
}

func (j *job) currentDelay() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.delay
}

func (j *job) streak() (int, errs.Kind) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failures, j.lastKind
}

func (j *job) mem() drepo.JobMemory {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.memory
}

func (j *job) setMem(m drepo.JobMemory) {
	j.mu.Lock()
	j.memory = m
	j.mu.Unlock()
}

func (j *job) setPublished(p published) {
	j.mu.Lock()
	j.published = p
	j.mu.Unlock()
}

func (j *job) lastPublished() published {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.published
}

func (j *job) heartbeatFailedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.hbTry
}

func (j *job) setHeartbeatFailedAt(t time.Time) {
	j.mu.Lock()
	j.hbTry = t
	j.mu.Unlock()
}
