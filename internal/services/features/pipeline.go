package features

import (
    "math"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
    "SignalPulse/pkg/util"
)

// Indicator computes one or more named features from a window.
type Indicator struct {
    Name     string
    Lookback int
    Compute  func(w models.CandleWindow) map[string]float64
}

// Pipeline runs a fixed set of indicators.
type Pipeline struct {
    indicators []Indicator
    minBars    int
}

// NewPipeline builds a pipeline; with no indicators the default set is used.
func NewPipeline(indicators ...Indicator) *Pipeline {
    if len(indicators) == 0 {
        indicators = DefaultIndicators()
    }
    p := &Pipeline{indicators: indicators}
    for _, ind := range indicators {
        if ind.Lookback > p.minBars {
            p.minBars = ind.Lookback
        }
    }
    return p
}

// MinBars is the shortest window Compute accepts.
func (p *Pipeline) MinBars() int { return p.minBars }

// Compute returns the feature vector for w or insufficient_data.
func (p *Pipeline) Compute(w models.CandleWindow) (models.FeatureVector, error) {
    const op = "features.compute"
    if w.Len() < p.minBars {
        return nil, errs.Newf(errs.KindInsufficientData, op, "need %d bars, have %d", p.minBars, w.Len())
    }
    if !w.Increasing() {
        return nil, errs.Newf(errs.KindInsufficientData, op, "window timestamps are not increasing")
    }

    out := make(models.FeatureVector, 16)
    for _, ind := range p.indicators {
        for name, v := range ind.Compute(w) {
            if math.IsNaN(v) || math.IsInf(v, 0) {
                return nil, errs.Newf(errs.KindInsufficientData, op, "%s produced %v", name, v)
            }
            out[name] = v
        }
    }
    return out, nil
}

// DefaultIndicators is the trend, momentum, volatility and volume set.
func DefaultIndicators() []Indicator {
    return []Indicator{
        {Name: "price", Lookback: 2, Compute: func(w models.CandleWindow) map[string]float64 {
            c := w.Closes()
            last, prev := c[len(c)-1], c[len(c)-2]
            change := math.NaN()
            if prev != 0 {
                change = (last/prev - 1) * 100
            }
            return map[string]float64{"close": last, "change_pct": change}
        }},
        {Name: "ema", Lookback: 50, Compute: func(w models.CandleWindow) map[string]float64 {
            c := w.Closes()
            e20, e50 := EMA(c, 20), EMA(c, 50)
            return map[string]float64{"ema_20": e20[len(e20)-1], "ema_50": e50[len(e50)-1]}
        }},
        {Name: "rsi", Lookback: 15, Compute: func(w models.CandleWindow) map[string]float64 {
            return map[string]float64{"rsi_14": RSI(w.Closes(), 14)}
        }},
        {Name: "macd", Lookback: 26 + 9 - 1, Compute: func(w models.CandleWindow) map[string]float64 {
            line, sig, hist := MACD(w.Closes(), 12, 26, 9)
            return map[string]float64{"macd": line, "macd_signal": sig, "macd_hist": hist}
        }},
        {Name: "atr", Lookback: 15, Compute: func(w models.CandleWindow) map[string]float64 {
            return map[string]float64{"atr_14": ATR(w.Candles, 14)}
        }},
        {Name: "volatility", Lookback: 21, Compute: func(w models.CandleWindow) map[string]float64 {
            r := LogReturns(w.Closes())
            return map[string]float64{"realized_vol": RealizedVolatility(r, 20, util.BarsPerYear(w.Interval))}
        }},
        {Name: "volume", Lookback: 20, Compute: func(w models.CandleWindow) map[string]float64 {
            return map[string]float64{"volume_z": ZScore(w.Volumes(), 20)}
        }},
    }
}
