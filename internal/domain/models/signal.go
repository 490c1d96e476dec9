package models

import (
	"strings"
	"time"
)

// Direction is the classified trade direction.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// ParseDirection accepts BUY/SELL/HOLD/NEUTRAL in any case.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return DirectionBuy, true
	case "sell", "short":
		return DirectionSell, true
	case "hold", "neutral", "wait":
		return DirectionHold, true
	default:
		return "", false
	}
}

// Actionable reports whether the direction is buy or sell.
func (d Direction) Actionable() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Label is the upper-case form used in messages.
func (d Direction) Label() string {
	if d == DirectionHold {
		return "NEUTRAL"
	}
	return strings.ToUpper(string(d))
}

// FeatureVector maps indicator name to value.
type FeatureVector map[string]float64

// Get returns the value and whether it is present.
func (f FeatureVector) Get(name string) (float64, bool) {
	v, ok := f[name]
	return v, ok
}

// Clone returns an independent copy.
func (f FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Signal is the structured classifier output.
type Signal struct {
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
	Direction   Direction `json:"direction"`
	Confidence  float64   `json:"confidence"`
	Rationale   string    `json:"rationale"`
	Support     []float64 `json:"support,omitempty"`
	Resistance  []float64 `json:"resistance,omitempty"`
	StopLoss    *float64  `json:"stop_loss,omitempty"`
	TakeProfits []float64 `json:"take_profits,omitempty"`
	Price       float64   `json:"price,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Model       string    `json:"model"`
	LatencyMs   int64     `json:"latency_ms,omitempty"`
}

// Valid reports whether direction is known and confidence lies in [0,1].
func (s *Signal) Valid() bool {
	if s == nil {
		return false
	}
	switch s.Direction {
	case DirectionBuy, DirectionSell, DirectionHold:
	default:
		return false
	}
	return s.Confidence >= 0 && s.Confidence <= 1
}

// ClassifyRequest is the input handed to a classifier.
type ClassifyRequest struct {
	Symbol      string
	Interval    string
	Features    FeatureVector
	Price       float64
	Candles     []Candle
	Headlines   []string
	ContextLink string
	Timezone    string
}
