package models

// Requests for the control and trigger endpoints.

type RunOnceRequest struct {
	Symbol          string `json:"symbol" validate:"required,max=32"`
	Interval        string `json:"interval" default:"15m" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	Provider        string `json:"provider"`
	TradingViewLink string `json:"tradingview_link" validate:"omitempty,url"`
	DryRun          bool   `json:"dry_run"`
}

type WebhookRequest struct {
	Symbol   string `json:"symbol" validate:"required,max=32"`
	Interval string `json:"interval" default:"15m" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	Provider string `json:"provider"`
	Link     string `json:"link" validate:"omitempty,url"`
	Secret   string `json:"secret"`
}

type StatusRequest struct {
	Limit int `query:"limit" default:"10" validate:"gte=0,lte=200"`
}

// RunOnceResult is returned by the inbound trigger.
type RunOnceResult struct {
	JobKey    string        `json:"job_key"`
	Signal    *Signal       `json:"signal"`
	Delivered bool          `json:"delivered"`
	Heartbeat bool          `json:"heartbeat"`
	Record    *JobRunRecord `json:"record"`
}

// TriggerPayload is the queued form of a webhook trigger.
type TriggerPayload struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Provider string  `json:"provider,omitempty"`
	Link     string  `json:"link,omitempty"`
	Source   Trigger `json:"source"`
}
