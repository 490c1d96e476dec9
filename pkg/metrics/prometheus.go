package metrics

import (
	"time"

	"SignalPulse/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "signalpulse"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	stageDuration  *prometheus.HistogramVec
	deliveries     *prometheus.CounterVec
	heartbeats     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	backoffSeconds *prometheus.GaugeVec
	confidence     *prometheus.GaugeVec
	lastPrice      *prometheus.GaugeVec
	running        prometheus.Gauge
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg. Collectors already registered are reused,
// so building the recorder twice in one process is safe.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Pipeline runs by job and outcome",
		}, []string{"job", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Wall time of whole pipeline runs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Messages posted by sink, kind and result",
		}, []string{"sink", "kind", "result"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat messages by job and kind",
		}, []string{"job", "kind"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by taxonomy kind",
		}, []string{"kind"}),
		backoffSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_backoff_seconds",
			Help:      "Current backoff delay per job, 0 when healthy",
		}, []string{"job"}),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_confidence",
			Help:      "Confidence of the last signal per job and direction",
		}, []string{"job", "direction"}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Last observed price per symbol",
		}, []string{"symbol"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the scheduler is started",
		}),
	}

	r.runsTotal = register(reg, r.runsTotal)
	r.runDuration = register(reg, r.runDuration)
	r.stageDuration = register(reg, r.stageDuration)
	r.deliveries = register(reg, r.deliveries)
	r.heartbeats = register(reg, r.heartbeats)
	r.errorsTotal = register(reg, r.errorsTotal)
	r.backoffSeconds = register(reg, r.backoffSeconds)
	r.confidence = register(reg, r.confidence)
	r.lastPrice = register(reg, r.lastPrice)
	r.running = register(reg, r.running)
	return r
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (r *Recorder) RecordRun(job string, outcome models.Outcome, seconds float64) {
	r.runsTotal.WithLabelValues(job, string(outcome)).Inc()
	r.runDuration.WithLabelValues(job).Observe(seconds)
}

func (r *Recorder) RecordStage(stage string, seconds float64) {
	r.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (r *Recorder) RecordDelivery(sink string, kind models.MessageKind, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.deliveries.WithLabelValues(sink, string(kind), result).Inc()
}

func (r *Recorder) RecordHeartbeat(job string, kind models.MessageKind) {
	r.heartbeats.WithLabelValues(job, string(kind)).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordBackoff(job string, delay time.Duration) {
	r.backoffSeconds.WithLabelValues(job).Set(delay.Seconds())
}

func (r *Recorder) RecordSignal(job string, s *models.Signal) {
	if s == nil {
		return
	}
	r.confidence.WithLabelValues(job, string(s.Direction)).Set(s.Confidence)
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) SetSchedulerRunning(running bool) {
	if running {
		r.running.Set(1)
		return
	}
	r.running.Set(0)
}

// Nop discards all telemetry.
type Nop struct{}

func (Nop) RecordRun(string, models.Outcome, float64) {}
func (Nop) RecordStage(string, float64) {}
func (Nop) RecordDelivery(string, models.MessageKind, bool) {}
func (Nop) RecordHeartbeat(string, models.MessageKind) {}
func (Nop) RecordError(string) {}
func (Nop) RecordBackoff(string, time.Duration) {}
func (Nop) RecordSignal(string, *models.Signal) {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) SetSchedulerRunning(bool) {}
