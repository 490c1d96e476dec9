package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	drepo "SignalPulse/internal/domain/repository"
	dsvc "SignalPulse/internal/domain/service"
	"SignalPulse/internal/service/health"
	"SignalPulse/pkg/logger"
	"SignalPulse/pkg/retry"
)

// Heartbeat policies.
const (
	HeartbeatOnSilence = "on_silence"
	HeartbeatInterval  = "interval"
)

// SchedulerConfig holds timing, backoff and heartbeat settings.
type SchedulerConfig struct {
	Align            bool
	RunTimeout       time.Duration
	StopGrace        time.Duration
	Backoff          retry.Policy
	BackoffThreshold int

	HeartbeatPolicy string
	HeartbeatWindow time.Duration
	DegradedStreak  int

	MentionThreshold float64
	DefaultInterval  string
	DefaultProvider  string
	DefaultBars      int
}

// RunOptions tune a manual run.
type RunOptions struct {
	Provider    string
	ContextLink string
	Trigger     models.Trigger
	SkipDeliver bool
}

// Scheduler owns one recurring task per job and the scheduler state.
type Scheduler struct {
	cfg      SchedulerConfig
	pipeline *SignalPipeline
	delivery dsvc.Delivery
	registry *health.Registry
	state    drepo.StateStore
	store    drepo.SignalStore
	metrics  drepo.Metrics
	logger   *logger.Logger
	now      func() time.Time

	jobs      map[string]*job
	order     []string
	adhoc     sync.Map // key -> *job, for runs of unconfigured pairs
	createdAt time.Time

	mu         sync.Mutex
	running    bool
	loopCancel context.CancelFunc
	runCancel  context.CancelFunc
	wg         sync.WaitGroup
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock replaces time.Now for heartbeat windows and records.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSignalStore persists run records.
func WithSignalStore(store drepo.SignalStore) SchedulerOption {
	return func(s *Scheduler) { s.store = store }
}

// NewScheduler builds jobs for every enabled spec and restores their memory
// from state.
func NewScheduler(
	ctx context.Context,
	cfg SchedulerConfig,
	specs []models.AssetJobSpec,
	pipeline *SignalPipeline,
	delivery dsvc.Delivery,
	registry *health.Registry,
	state drepo.StateStore,
	metrics drepo.Metrics,
	lgr *logger.Logger,
	opts ...SchedulerOption,
) (*Scheduler, error) {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if cfg.HeartbeatWindow <= 0 {
		cfg.HeartbeatWindow = 30 * time.Minute
	}
	if cfg.HeartbeatPolicy == "" {
		cfg.HeartbeatPolicy = HeartbeatOnSilence
	}
	if cfg.DegradedStreak <= 0 {
		cfg.DegradedStreak = 3
	}
	s := &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		delivery: delivery,
		registry: registry,
		state:    state,
		metrics:  metrics,
		logger:   lgr,
		now:      time.Now,
		jobs:     make(map[string]*job),
	}
	for _, o := range opts {
		o(s)
	}
	s.createdAt = s.now()

	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if _, dup := s.jobs[spec.Key()]; dup {
			return nil, errs.Config("duplicate job %s", spec.Key())
		}
		if !pipeline.Supports(spec.Provider, spec.Interval) {
			return nil, errs.Config("provider %q does not support interval %s", spec.Provider, spec.Interval)
		}
		j, err := newJob(spec, cfg.Backoff, cfg.BackoffThreshold, lgr)
		if err != nil {
			return nil, err
		}
		s.restore(ctx, j)
		s.jobs[spec.Key()] = j
		s.order = append(s.order, spec.Key())
		registry.Register(spec, j.every)
		registry.SetJobState(spec.Key(), models.JobStopped, time.Time{}, 0)
	}
	sort.Strings(s.order)
	return s, nil
}

// publish reports a job's state outside a run. Runs restore it when they end.
func (s *Scheduler) publish(j *job, state models.JobState, next time.Time, delay time.Duration) {
	j.setPublished(published{state: state, next: next, delay: delay})
	s.registry.SetJobState(j.spec.Key(), state, next, delay)
}

func (s *Scheduler) restore(ctx context.Context, j *job) {
	if s.state == nil {
		return
	}
	mem, ok, err := s.state.Load(ctx, j.spec.Key())
	if err != nil {
		j.logger.Warn("load job memory failed", logger.Error(err))
		return
	}
	if ok {
		j.setMem(mem)
	}
}

func (s *Scheduler) persist(ctx context.Context, j *job) {
	if s.state == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.state.Save(sctx, j.spec.Key(), j.mem()); err != nil {
		j.logger.Warn("save job memory failed", logger.Error(err))
	}
}

// Jobs lists configured job keys.
func (s *Scheduler) Jobs() []string { return append([]string(nil), s.order...) }

// Running reports whether the timers are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches one loop per job. Starting a running scheduler is a no-op.
// The loops outlive ctx; use Stop to end them.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	runCtx, runCancel := context.WithCancel(context.Background())
	s.loopCancel, s.runCancel = loopCancel, runCancel
	s.running = true
	s.registry.SetRunning(true)
	s.metrics.SetSchedulerRunning(true)

	for _, key := range s.order {
		j := s.jobs[key]
		s.wg.Add(1)
		go s.loop(loopCtx, runCtx, j)
	}
	s.logger.Info("scheduler started", logger.Int("jobs", len(s.order)), logger.Bool("align", s.cfg.Align))
	return nil
}

// Stop halts the timers and waits for in-flight runs. Runs still going after
// the grace period are cancelled. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.loopCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()
	var err error
	select {
	case <-done:
	case <-grace.C:
		s.logger.Warn("stop grace elapsed, cancelling in-flight runs", logger.Duration("grace", s.cfg.StopGrace))
		s.runCancel()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("stop scheduler: %w", ctx.Err())
		}
	case <-ctx.Done():
		s.runCancel()
		<-done
		err = fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
	s.runCancel()

	for _, key := range s.order {
		s.publish(s.jobs[key], models.JobStopped, time.Time{}, 0)
	}
	s.registry.SetRunning(false)
	s.metrics.SetSchedulerRunning(false)
	s.logger.Info("scheduler stopped")
	return err
}

// Status returns the registry snapshot with up to historyLimit records per job.
func (s *Scheduler) Status(historyLimit int) health.Snapshot {
	return s.registry.Snapshot(historyLimit)
}

// loop parks the job on a timer until the next fire, a due heartbeat or stop.
func (s *Scheduler) loop(loopCtx, runCtx context.Context, j *job) {
	defer s.wg.Done()
	var prev time.Time

	for {
		now := s.now()
		delay := j.currentDelay()
		state := models.JobIdle
		next := j.nextFire(now, prev, s.cfg.Align)
		if delay > 0 {
			state = models.JobBackoff
			next = now.Add(delay)
			s.metrics.RecordBackoff(j.spec.Key(), delay)
		}
		s.publish(j, state, next, delay)

		fire := time.NewTimer(next.Sub(now))
		var hb <-chan time.Time
		var hbTimer *time.Timer
		if at, ok := s.standaloneHeartbeatAt(j); ok && at.Before(next) {
			hbTimer = time.NewTimer(at.Sub(now))
			hb = hbTimer.C
		}
		stop := func() {
			fire.Stop()
			if hbTimer != nil {
				hbTimer.Stop()
			}
		}

		select {
		case <-loopCtx.Done():
			stop()
			return
		case <-hb:
			stop()
			s.sendStandaloneHeartbeat(loopCtx, runCtx, j)
			continue
		case <-fire.C:
			stop()
		}

		prev = next
		rec, err := s.execute(runCtx, j, RunOptions{Trigger: models.TriggerSchedule})
		if rec.Outcome == models.OutcomeCancelled && loopCtx.Err() != nil {
			return
		}
		if delay := j.settle(rec.Outcome, err); delay > 0 {
			j.logger.Warn("job backing off",
				logger.String("kind", string(errs.KindOf(err))),
				logger.Duration("delay", delay))
		}
	}
}

// RunOnce runs the pipeline for symbol and interval outside the schedule and
// returns the result synchronously. Unconfigured pairs run on the default
// provider. Runs of the same job never overlap with scheduled runs.
func (s *Scheduler) RunOnce(ctx context.Context, symbol, interval string, opts RunOptions) (*models.RunOnceResult, error) {
	j, err := s.resolve(symbol, interval, opts.Provider)
	if err != nil {
		return nil, err
	}
	if opts.Trigger == "" {
		opts.Trigger = models.TriggerManual
	}
	rec, err := s.execute(ctx, j, opts)
	j.settle(rec.Outcome, err)
	return &models.RunOnceResult{
		JobKey:    rec.JobKey,
		Signal:    rec.Signal,
		Delivered: rec.Delivered,
		Heartbeat: rec.Heartbeat,
		Record:    &rec,
	}, err
}

func (s *Scheduler) resolve(symbol, interval, provider string) (*job, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errs.Config("symbol is required")
	}
	interval = strings.TrimSpace(interval)
	provider = strings.ToLower(strings.TrimSpace(provider))

	for _, key := range s.order {
		j := s.jobs[key]
		if j.spec.Symbol != symbol {
			continue
		}
		if (interval == "" || j.spec.Interval == interval) && (provider == "" || j.spec.Provider == provider) {
			return j, nil
		}
	}

	if interval == "" {
		interval = s.cfg.DefaultInterval
	}
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	spec := models.AssetJobSpec{
		Symbol:   symbol,
		Provider: provider,
		Interval: interval,
		Enabled:  true,
		Bars:     s.cfg.DefaultBars,
	}
	if v, ok := s.adhoc.Load(spec.Key()); ok {
		return v.(*job), nil
	}
	if !s.pipeline.Supports(spec.Provider, spec.Interval) {
		return nil, errs.Config("provider %q does not support interval %q", spec.Provider, spec.Interval)
	}
	j, err := newJob(spec, s.cfg.Backoff, s.cfg.BackoffThreshold, s.logger)
	if err != nil {
		return nil, err
	}
	v, loaded := s.adhoc.LoadOrStore(spec.Key(), j)
	if !loaded {
		s.restore(context.Background(), j)
		s.registry.Track(spec)
	}
	return v.(*job), nil
}

// execute performs one serialized run of j: analyze, decide, deliver, record.
func (s *Scheduler) execute(ctx context.Context, j *job, opts RunOptions) (models.JobRunRecord, error) {
	key := j.spec.Key()
	rec := models.JobRunRecord{
		ID:      uuid.NewString(),
		JobKey:  key,
		Trigger: opts.Trigger,
	}

	if err := j.acquire(ctx); err != nil {
		rec.StartedAt, rec.EndedAt = s.now(), s.now()
		rec.Outcome = models.OutcomeCancelled
		rec.ErrorKind = string(errs.KindCancelled)
		rec.Error = err.Error()
		return rec, errs.New(errs.KindCancelled, "scheduler.acquire", err)
	}
	defer j.release()

	if _, configured := s.jobs[key]; configured {
		s.registry.SetJobState(key, models.JobRunning, time.Time{}, 0)
		defer func() {
			p := j.lastPublished()
			s.registry.SetJobState(key, p.state, p.next, p.delay)
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	started := time.Now()
	rec.StartedAt = s.now()
	err := s.run(runCtx, j, opts, &rec)
	rec.EndedAt = s.now()

	rec.Outcome = outcomeOf(runCtx, err)
	if err != nil {
		if rec.Outcome == models.OutcomeTimeout {
			err = errs.New(errs.KindTimeout, "scheduler.run", err)
		} else if rec.Outcome == models.OutcomeCancelled {
			err = errs.New(errs.KindCancelled, "scheduler.run", err)
		}
		rec.ErrorKind = string(errs.KindOf(err))
		rec.Error = err.Error()
		if hint, ok := errs.RetryAfter(err); ok {
			rec.RetryAfterS = hint.Seconds()
		}
		s.metrics.RecordError(rec.ErrorKind)
		j.logger.Warn("run failed",
			logger.String("trigger", string(rec.Trigger)),
			logger.String("outcome", string(rec.Outcome)),
			logger.Error(err))
	} else {
		j.logger.Info("run complete",
			logger.String("trigger", string(rec.Trigger)),
			logger.String("direction", string(rec.Signal.Direction)),
			logger.Float64("confidence", rec.Signal.Confidence),
			logger.Bool("delivered", rec.Delivered),
			logger.Bool("heartbeat", rec.Heartbeat))
	}

	s.registry.RecordRun(key, rec)
	s.metrics.RecordRun(key, rec.Outcome, time.Since(started).Seconds())
	if rec.Signal != nil {
		s.metrics.RecordSignal(key, rec.Signal)
	}
	s.saveRecord(ctx, j, rec)

	if err != nil && rec.Outcome != models.OutcomeCancelled {
		s.maybeDegraded(ctx, j, rec)
	}
	return rec, err
}

// run is the pipeline body. It fills rec with the signal and delivery flags.
func (s *Scheduler) run(ctx context.Context, j *job, opts RunOptions, rec *models.JobRunRecord) error {
	a, err := s.pipeline.Analyze(ctx, j.spec, opts.ContextLink)
	if err != nil {
		return err
	}
	sig := a.Signal
	rec.Signal = sig

	mem := j.mem()
	now := s.now()
	link := opts.ContextLink
	if link == "" {
		link = j.spec.ContextLink
	}

	var msg *models.Message
	switch {
	case sig.Direction.Actionable():
		msg = &models.Message{
			Kind:        models.MessageSignal,
			Signal:      sig,
			Mention:     sig.Confidence >= s.cfg.MentionThreshold,
			ContextLink: link,
		}
	case s.heartbeatDue(mem, now):
		msg = &models.Message{
			Kind:       models.MessageHeartbeat,
			Price:      a.Price,
			LastSignal: mem.LastSignal,
		}
	}
	mem.LastSignal = sig

	if msg != nil && !opts.SkipDeliver {
		msg.JobKey, msg.Symbol, msg.Interval, msg.CreatedAt = j.spec.Key(), j.spec.Symbol, j.spec.Interval, now
		start := time.Now()
		derr := s.delivery.Deliver(ctx, *msg)
		s.metrics.RecordStage("deliver", time.Since(start).Seconds())
		if derr != nil {
			j.setMem(mem)
			s.persist(ctx, j)
			return fmt.Errorf("deliver: %w", derr)
		}
		rec.Delivered = true
		mem.LastDelivery = now
		if msg.Kind == models.MessageHeartbeat {
			rec.Heartbeat = true
			mem.LastHeartbeat = now
			s.metrics.RecordHeartbeat(j.spec.Key(), models.MessageHeartbeat)
		}
	}
	j.setMem(mem)
	s.persist(ctx, j)
	return nil
}

// heartbeatDue applies the heartbeat policy. Without history the window is
// measured from scheduler construction.
func (s *Scheduler) heartbeatDue(mem drepo.JobMemory, now time.Time) bool {
	return !now.Before(s.heartbeatBase(mem).Add(s.cfg.HeartbeatWindow))
}

func (s *Scheduler) heartbeatBase(mem drepo.JobMemory) time.Time {
	base := mem.LastDelivery
	if s.cfg.HeartbeatPolicy == HeartbeatInterval {
		base = mem.LastHeartbeat
	}
	if base.IsZero() {
		base = s.createdAt
	}
	return base
}

// standaloneHeartbeatAt is when a heartbeat is due without a run. Failing jobs
// get degraded notices instead.
func (s *Scheduler) standaloneHeartbeatAt(j *job) (time.Time, bool) {
	if n, _ := j.streak(); n > 0 {
		return time.Time{}, false
	}
	at := s.heartbeatBase(j.mem()).Add(s.cfg.HeartbeatWindow)
	if failed := j.heartbeatFailedAt(); !failed.IsZero() && failed.Add(s.cfg.HeartbeatWindow).After(at) {
		at = failed.Add(s.cfg.HeartbeatWindow)
	}
	return at, true
}

func (s *Scheduler) sendStandaloneHeartbeat(loopCtx, runCtx context.Context, j *job) {
	if err := j.acquire(loopCtx); err != nil {
		return
	}
	defer j.release()

	ctx, cancel := context.WithTimeout(runCtx, s.cfg.RunTimeout)
	defer cancel()

	mem := j.mem()
	now := s.now()
	if !s.heartbeatDue(mem, now) {
		return
	}
	price, err := s.pipeline.Price(ctx, j.spec)
	if err != nil {
		if mem.LastSignal != nil {
			price = mem.LastSignal.Price
		}
		j.logger.Warn("heartbeat price unavailable", logger.Error(err))
	}
	msg := models.Message{
		Kind:       models.MessageHeartbeat,
		JobKey:     j.spec.Key(),
		Symbol:     j.spec.Symbol,
		Interval:   j.spec.Interval,
		Price:      price,
		LastSignal: mem.LastSignal,
		CreatedAt:  now,
	}
	if err := s.delivery.Deliver(ctx, msg); err != nil {
		j.logger.Warn("heartbeat delivery failed", logger.Error(err))
		// nothing reached the channel; wait a window before the next standalone try
		j.setHeartbeatFailedAt(now)
		return
	}
	j.setHeartbeatFailedAt(time.Time{})
	mem.LastHeartbeat, mem.LastDelivery = now, now
	j.setMem(mem)
	s.persist(ctx, j)
	s.metrics.RecordHeartbeat(j.spec.Key(), models.MessageHeartbeat)
	j.logger.Info("heartbeat sent", logger.Float64("price", price))
}

// maybeDegraded sends one degraded notice per window once the failure streak
// reaches the configured length.
func (s *Scheduler) maybeDegraded(ctx context.Context, j *job, rec models.JobRunRecord) {
	streak := s.registry.FailureStreak(j.spec.Key())
	if streak < s.cfg.DegradedStreak {
		return
	}
	mem := j.mem()
	now := s.now()
	if !mem.LastDegraded.IsZero() && now.Sub(mem.LastDegraded) < s.cfg.HeartbeatWindow {
		return
	}
	msg := models.Message{
		Kind:          models.MessageDegraded,
		JobKey:        j.spec.Key(),
		Symbol:        j.spec.Symbol,
		Interval:      j.spec.Interval,
		LastSignal:    mem.LastSignal,
		FailureKind:   rec.ErrorKind,
		FailureStreak: streak,
		CreatedAt:     now,
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RunTimeout)
	defer cancel()
	if err := s.delivery.Deliver(dctx, msg); err != nil {
		j.logger.Warn("degraded notice failed", logger.Error(err))
		return
	}
	mem.LastDegraded = now
	j.setMem(mem)
	s.persist(ctx, j)
	s.metrics.RecordHeartbeat(j.spec.Key(), models.MessageDegraded)
	j.logger.Warn("degraded notice sent", logger.Int("streak", streak), logger.String("kind", rec.ErrorKind))
}

func (s *Scheduler) saveRecord(ctx context.Context, j *job, rec models.JobRunRecord) {
	if s.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.SaveRun(sctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Warn("save run record failed", logger.Error(err))
	}
}
