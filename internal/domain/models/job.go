package models

import (
	"fmt"
	"strings"
	"time"
)

// AssetJobSpec identifies one recurring (symbol, interval, provider) job.
type AssetJobSpec struct {
	Symbol      string `json:"symbol"`
	Provider    string `json:"provider"`
	Interval    string `json:"interval"`
	Enabled     bool   `json:"enabled"`
	Bars        int    `json:"bars"`
	Cron        string `json:"cron,omitempty"`
	ContextLink string `json:"context_link,omitempty"`
}

// Key is the unique job key.
func (s AssetJobSpec) Key() string {
	return JobKey(s.Symbol, s.Interval, s.Provider)
}

// JobKey builds the canonical key for a job.
func JobKey(symbol, interval, provider string) string {
	return fmt.Sprintf("%s|%s|%s", strings.ToUpper(symbol), interval, provider)
}

// JobState is the scheduler state of one job.
type JobState string

const (
	JobIdle    JobState = "idle"
	JobRunning JobState = "running"
	JobBackoff JobState = "backoff"
	JobStopped JobState = "stopped"
)

// Outcome is the result class of one run.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeDataError     Outcome = "data-error"
	OutcomeClassifyError Outcome = "classify-error"
	OutcomeDeliverError  Outcome = "deliver-error"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeCancelled     Outcome = "cancelled"
)

// Trigger says what started a run.
type Trigger string

const (
	TriggerSchedule  Trigger = "schedule"
	TriggerManual    Trigger = "manual"
	TriggerWebhook   Trigger = "webhook"
	TriggerHeartbeat Trigger = "heartbeat"
)

// JobRunRecord is one entry of a job's run history.
type JobRunRecord struct {
	ID          string    `json:"id"`
	JobKey      string    `json:"job_key"`
	Trigger     Trigger   `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Outcome     Outcome   `json:"outcome"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Signal      *Signal   `json:"signal,omitempty"`
	Delivered   bool      `json:"delivered"`
	Heartbeat   bool      `json:"heartbeat"`
	RetryAfterS float64   `json:"retry_after_s,omitempty"`
}

// Duration returns the wall time of the run.
func (r JobRunRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
