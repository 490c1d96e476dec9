// Package health keeps the process-wide job status used by /status, /readyz and
// the scheduler. Each job owns a slot with its own lock, so writers for
// different jobs never contend.
package health

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"SignalPulse/internal/domain/models"
)

// Overall status values.
const (
	StatusReady    = "ready"
	StatusStarting = "starting"
	StatusDegraded = "degraded"
)

// JobStatus is the snapshot of one job slot.
type JobStatus struct {
	Key           string                `json:"key"`
	Symbol        string                `json:"symbol"`
	Interval      string                `json:"interval"`
	Provider      string                `json:"provider"`
	State         models.JobState       `json:"state"`
	NextFire      *time.Time            `json:"next_fire,omitempty"`
	BackoffDelay  time.Duration         `json:"backoff_delay_ns,omitempty"`
	LastOutcome   models.Outcome        `json:"last_outcome,omitempty"`
	LastRunAt     *time.Time            `json:"last_run_at,omitempty"`
	LastSuccessAt *time.Time            `json:"last_success_at,omitempty"`
	LastSignal    *models.Signal        `json:"last_signal,omitempty"`
	FailureStreak int                   `json:"failure_streak"`
	Runs          int64                 `json:"runs"`
	Failures      int64                 `json:"failures"`
	History       []models.JobRunRecord `json:"history,omitempty"`
}

// Counters aggregate over all jobs.
type Counters struct {
	Runs       int64                    `json:"runs"`
	Successes  int64                    `json:"successes"`
	Failures   int64                    `json:"failures"`
	Deliveries int64                    `json:"deliveries"`
	Heartbeats int64                    `json:"heartbeats"`
	ByOutcome  map[models.Outcome]int64 `json:"by_outcome"`
}

// Snapshot is a consistent-per-job view of the registry.
type Snapshot struct {
	Status    string               `json:"status"`
	Ready     bool                 `json:"ready"`
	Running   bool                 `json:"running"`
	StartedAt *time.Time           `json:"started_at,omitempty"`
	Uptime    string               `json:"uptime"`
	Jobs      map[string]JobStatus `json:"jobs"`
	Counters  Counters             `json:"counters"`
}

type slot struct {
	mu            sync.Mutex
	spec          models.AssetJobSpec
	state         models.JobState
	nextFire      time.Time
	backoff       time.Duration
	history       []models.JobRunRecord // most recent first
	lastSuccess   time.Time
	lastSignal    *models.Signal
	failureStreak int
	runs          int64
	failures      int64
}

// Registry is safe for concurrent use.
type Registry struct {
	slots       sync.Map // job key -> *slot
	historySize int
	now         func() time.Time
	processAt   time.Time

	running   atomic.Bool
	startedAt atomic.Int64 // unix nanos of the last start
	grace     atomic.Int64 // smallest job interval

	runs       atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	deliveries atomic.Int64
	heartbeats atomic.Int64
	byOutcome  map[models.Outcome]*atomic.Int64
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry keeping historySize records per job.
func NewRegistry(historySize int, opts ...Option) *Registry {
	if historySize <= 0 {
		historySize = 50
	}
	r := &Registry{historySize: historySize, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	r.processAt = r.now()
	r.byOutcome = make(map[models.Outcome]*atomic.Int64)
	for _, o := range []models.Outcome{
		models.OutcomeSuccess, models.OutcomeDataError, models.OutcomeClassifyError,
		models.OutcomeDeliverError, models.OutcomeTimeout, models.OutcomeCancelled,
	} {
		r.byOutcome[o] = new(atomic.Int64)
	}
	return r
}

// Register creates the slot for spec. interval feeds the readiness grace,
// which is the smallest interval of all jobs.
func (r *Registry) Register(spec models.AssetJobSpec, interval time.Duration) {
	r.Track(spec)
	for {
		cur := r.grace.Load()
		if cur != 0 && cur <= int64(interval) {
			return
		}
		if r.grace.CompareAndSwap(cur, int64(interval)) {
			return
		}
	}
}

// Track creates the slot for spec without affecting the readiness grace.
// Manual runs of unscheduled pairs are tracked this way.
func (r *Registry) Track(spec models.AssetJobSpec) {
	r.slots.LoadOrStore(spec.Key(), &slot{spec: spec, state: models.JobIdle})
}

func (r *Registry) slot(key string) *slot {
	if v, ok := r.slots.Load(key); ok {
		return v.(*slot)
	}
	v, _ := r.slots.LoadOrStore(key, &slot{state: models.JobIdle})
	return v.(*slot)
}

// SetRunning flips the scheduler flag. Starting resets the grace clock.
func (r *Registry) SetRunning(running bool) {
	if running && !r.running.Load() {
		r.startedAt.Store(r.now().UnixNano())
	}
	r.running.Store(running)
}

// Running reports the scheduler flag.
func (r *Registry) Running() bool { return r.running.Load() }

// SetJobState records the state machine position of a job.
func (r *Registry) SetJobState(key string, state models.JobState, nextFire time.Time, backoff time.Duration) {
	s := r.slot(key)
	s.mu.Lock()
	s.state = state
	s.nextFire = nextFire
	s.backoff = backoff
	s.mu.Unlock()
}

// RecordRun appends rec to the job history and updates counters.
func (r *Registry) RecordRun(key string, rec models.JobRunRecord) {
	s := r.slot(key)
	s.mu.Lock()
	s.history = append(s.history, models.JobRunRecord{})
	copy(s.history[1:], s.history)
	s.history[0] = rec
	if len(s.history) > r.historySize {
		s.history = s.history[:r.historySize]
	}
	s.runs++
	if rec.Outcome == models.OutcomeSuccess {
		s.failureStreak = 0
		s.lastSuccess = rec.EndedAt
	} else {
		s.failureStreak++
		s.failures++
	}
	if rec.Signal != nil {
		s.lastSignal = rec.Signal
	}
	s.mu.Unlock()

	r.runs.Add(1)
	if rec.Outcome == models.OutcomeSuccess {
		r.successes.Add(1)
	} else {
		r.failures.Add(1)
	}
	if c, ok := r.byOutcome[rec.Outcome]; ok {
		c.Add(1)
	}
	if rec.Delivered {
		r.deliveries.Add(1)
	}
	if rec.Heartbeat {
		r.heartbeats.Add(1)
	}
}

// FailureStreak returns consecutive failed runs of a job.
func (r *Registry) FailureStreak(key string) int {
	s := r.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureStreak
}

// History returns up to limit records, most recent first. limit <= 0 returns all.
func (r *Registry) History(key string, limit int) []models.JobRunRecord {
	s := r.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.JobRunRecord, n)
	copy(out, s.history[:n])
	return out
}

// Ready is true after any successful run, or while the scheduler is running
// within one full interval of its start.
func (r *Registry) Ready() bool {
	if r.successes.Load() > 0 {
		return true
	}
	return r.inGrace()
}

func (r *Registry) inGrace() bool {
	if !r.running.Load() {
		return false
	}
	started := time.Unix(0, r.startedAt.Load())
	return r.now().Sub(started) < time.Duration(r.grace.Load())
}

// Status is ready, starting or degraded.
func (r *Registry) Status() string {
	switch {
	case r.successes.Load() > 0:
		return StatusReady
	case r.inGrace():
		return StatusStarting
	default:
		return StatusDegraded
	}
}

// Uptime since the registry was created.
func (r *Registry) Uptime() time.Duration { return r.now().Sub(r.processAt) }

// Snapshot copies every slot. historyLimit bounds the records per job; zero
// omits history.
func (r *Registry) Snapshot(historyLimit int) Snapshot {
	snap := Snapshot{
		Status:  r.Status(),
		Ready:   r.Ready(),
		Running: r.running.Load(),
		Uptime:  r.Uptime().Truncate(time.Second).String(),
		Jobs:    make(map[string]JobStatus),
	}
	if ns := r.startedAt.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		snap.StartedAt = &t
	}

	r.slots.Range(func(k, v interface{}) bool {
		s := v.(*slot)
		s.mu.Lock()
		js := JobStatus{
			Key:           k.(string),
			Symbol:        s.spec.Symbol,
			Interval:      s.spec.Interval,
			Provider:      s.spec.Provider,
			State:         s.state,
			BackoffDelay:  s.backoff,
			LastSignal:    s.lastSignal,
			FailureStreak: s.failureStreak,
			Runs:          s.runs,
			Failures:      s.failures,
		}
		if !s.nextFire.IsZero() {
			t := s.nextFire
			js.NextFire = &t
		}
		if len(s.history) > 0 {
			last := s.history[0]
			js.LastOutcome = last.Outcome
			t := last.EndedAt
			js.LastRunAt = &t
		}
		if !s.lastSuccess.IsZero() {
			t := s.lastSuccess
			js.LastSuccessAt = &t
		}
		if historyLimit > 0 {
			n := len(s.history)
			if historyLimit < n {
				n = historyLimit
			}
			js.History = append([]models.JobRunRecord(nil), s.history[:n]...)
		}
		s.mu.Unlock()
		snap.Jobs[js.Key] = js
		return true
	})

	snap.Counters = Counters{
		Runs:       r.runs.Load(),
		Successes:  r.successes.Load(),
		Failures:   r.failures.Load(),
		Deliveries: r.deliveries.Load(),
		Heartbeats: r.heartbeats.Load(),
		ByOutcome:  make(map[models.Outcome]int64, len(r.byOutcome)),
	}
	for o, c := range r.byOutcome {
		snap.Counters.ByOutcome[o] = c.Load()
	}
	return snap
}

// Keys lists registered job keys in order.
func (r *Registry) Keys() []string {
	var keys []string
	r.slots.Range(func(k, _ interface{}) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
