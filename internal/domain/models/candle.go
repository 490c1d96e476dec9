package models

import (
	"sort"
	"time"
)

// Candle is one OHLCV bar.
type Candle struct {
	Bucket time.Time `json:"t"`
	Symbol string    `json:"symbol,omitempty"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// CandleWindow is an ordered run of bars for one symbol and interval.
type CandleWindow struct {
	Symbol   string
	Interval string
	Candles  []Candle
}

// NewCandleWindow sorts bars by time, drops duplicate buckets and keeps the last
// count bars (count <= 0 keeps all).
func NewCandleWindow(symbol, interval string, bars []Candle, count int) CandleWindow {
	sorted := make([]Candle, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Bucket.Before(sorted[j].Bucket) })

	out := sorted[:0]
	for i, c := range sorted {
		if i > 0 && !c.Bucket.After(out[len(out)-1].Bucket) {
			continue
		}
		out = append(out, c)
	}
	if count > 0 && len(out) > count {
		out = out[len(out)-count:]
	}
	return CandleWindow{Symbol: symbol, Interval: interval, Candles: out}
}

// Len returns the number of bars.
func (w CandleWindow) Len() int { return len(w.Candles) }

// Last returns the most recent bar.
func (w CandleWindow) Last() (Candle, bool) {
	if len(w.Candles) == 0 {
		return Candle{}, false
	}
	return w.Candles[len(w.Candles)-1], true
}

// Closes returns close prices oldest first.
func (w CandleWindow) Closes() []float64 {
	out := make([]float64, len(w.Candles))
	for i, c := range w.Candles {
		out[i] = c.Close
	}
	return out
}

// Volumes returns volumes oldest first.
func (w CandleWindow) Volumes() []float64 {
	out := make([]float64, len(w.Candles))
	for i, c := range w.Candles {
		out[i] = c.Volume
	}
	return out
}

// Increasing reports whether bucket timestamps are strictly increasing.
func (w CandleWindow) Increasing() bool {
	for i := 1; i < len(w.Candles); i++ {
		if !w.Candles[i].Bucket.After(w.Candles[i-1].Bucket) {
			return false
		}
	}
	return true
}
