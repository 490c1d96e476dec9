package models

import "time"

// MessageKind distinguishes trading signals from status messages.
type MessageKind string

const (
	MessageSignal    MessageKind = "signal"
	MessageHeartbeat MessageKind = "heartbeat"
	MessageDegraded  MessageKind = "degraded"
)

// Message is what the delivery channel formats and posts.
type Message struct {
	Kind          MessageKind `json:"kind"`
	JobKey        string      `json:"job_key"`
	Symbol        string      `json:"symbol"`
	Interval      string      `json:"interval"`
	Signal        *Signal     `json:"signal,omitempty"`
	Mention       bool        `json:"mention"`
	Price         float64     `json:"price,omitempty"`
	LastSignal    *Signal     `json:"last_signal,omitempty"`
	FailureKind   string      `json:"failure_kind,omitempty"`
	FailureStreak int         `json:"failure_streak,omitempty"`
	ContextLink   string      `json:"context_link,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
