package repository

import (
	"context"
	"time"

	"SignalPulse/internal/domain/models"
)

// DataSource fetches candles and prices from one market-data provider.
// Implementations must be safe for concurrent use across symbols.
type DataSource interface {
	Kind() string
	Intervals() []string
	FetchCandles(ctx context.Context, symbol, interval string, count int) (models.CandleWindow, error)
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// SignalStore persists run records for later analysis.
type SignalStore interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, rec models.JobRunRecord) error
	RecentRuns(ctx context.Context, jobKey string, limit int) ([]models.JobRunRecord, error)
	Close() error
}

// JobMemory is the per-job state that must survive restarts.
type JobMemory struct {
	LastDelivery  time.Time      `json:"last_delivery"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	LastDegraded  time.Time      `json:"last_degraded"`
	LastSignal    *models.Signal `json:"last_signal,omitempty"`
}

// StateStore loads and saves JobMemory by job key.
type StateStore interface {
	Load(ctx context.Context, jobKey string) (JobMemory, bool, error)
	Save(ctx context.Context, jobKey string, mem JobMemory) error
}

// Metrics records pipeline telemetry.
type Metrics interface {
	RecordRun(job string, outcome models.Outcome, seconds float64)
	RecordStage(stage string, seconds float64)
	RecordDelivery(sink string, kind models.MessageKind, ok bool)
	RecordHeartbeat(job string, kind models.MessageKind)
	RecordError(kind string)
	RecordBackoff(job string, delay time.Duration)
	RecordSignal(job string, s *models.Signal)
	RecordLastPrice(symbol string, price float64)
	SetSchedulerRunning(running bool)
}
