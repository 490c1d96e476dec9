package features

import (
    "math"

    "gonum.org/v1/gonum/floats"
    "gonum.org/v1/gonum/stat"

    "SignalPulse/internal/domain/models"
)

// EMA returns the exponential moving average series seeded with the simple
// average of the first period values. The first period-1 entries are NaN.
func EMA(values []float64, period int) []float64 {
    out := make([]float64, len(values))
    if period <= 0 || len(values) < period {
        for i := range out {
            out[i] = math.NaN()
        }
        return out
    }
    for i := 0; i < period-1; i++ {
        out[i] = math.NaN()
    }
    out[period-1] = floats.Sum(values[:period]) / float64(period)
    k := 2 / float64(period+1)
    for i := period; i < len(values); i++ {
        out[i] = (values[i]-out[i-1])*k + out[i-1]
    }
    return out
}

// MACD returns the latest MACD line, signal line and histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist float64) {
    ef := EMA(closes, fast)
    es := EMA(closes, slow)
    if len(closes) < slow+signal-1 {
        return math.NaN(), math.NaN(), math.NaN()
    }
    macd := make([]float64, 0, len(closes)-slow+1)
    for i := slow - 1; i < len(closes); i++ {
        macd = append(macd, ef[i]-es[i])
    }
    sigSeries := EMA(macd, signal)
    line = macd[len(macd)-1]
    sig = sigSeries[len(sigSeries)-1]
    return line, sig, line - sig
}

// RSI is Wilder's relative strength index over period changes.
func RSI(closes []float64, period int) float64 {
    if period <= 0 || len(closes) < period+1 {
        return math.NaN()
    }
    var gain, loss float64
    for i := 1; i <= period; i++ {
        d := closes[i] - closes[i-1]
        if d > 0 {
            gain += d
        } else {
            loss -= d
        }
    }
    gain /= float64(period)
    loss /= float64(period)
    for i := period + 1; i < len(closes); i++ {
        d := closes[i] - closes[i-1]
        up, down := 0.0, 0.0
        if d > 0 {
            up = d
        } else {
            down = -d
        }
        gain = (gain*float64(period-1) + up) / float64(period)
        loss = (loss*float64(period-1) + down) / float64(period)
    }
    switch {
    case loss == 0 && gain == 0:
        return 50
    case loss == 0:
        return 100
    }
    return 100 - 100/(1+gain/loss)
}

// ATR is Wilder's average true range.
func ATR(candles []models.Candle, period int) float64 {
    if period <= 0 || len(candles) < period+1 {
        return math.NaN()
    }
    tr := make([]float64, 0, len(candles)-1)
    for i := 1; i < len(candles); i++ {
        c, prev := candles[i], candles[i-1].Close
        tr = append(tr, math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev))))
    }
    atr := stat.Mean(tr[:period], nil)
    for i := period; i < len(tr); i++ {
        atr = (atr*float64(period-1) + tr[i]) / float64(period)
    }
    return atr
}

// LogReturns computes r_t = ln(C_t / C_{t-1}); non-positive prices give 0.
func LogReturns(closes []float64) []float64 {
    if len(closes) < 2 {
        return nil
    }
    out := make([]float64, 0, len(closes)-1)
    for i := 1; i < len(closes); i++ {
        prev, cur := closes[i-1], closes[i]
        if prev <= 0 || cur <= 0 {
            out = append(out, 0)
            continue
        }
        out = append(out, math.Log(cur/prev))
    }
    return out
}

// RealizedVolatility is the annualized sample deviation of the last window returns.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
    if window <= 1 || len(logReturns) < window {
        return math.NaN()
    }
    sd := stat.StdDev(logReturns[len(logReturns)-window:], nil)
    return sd * math.Sqrt(barsPerYear)
}

// ZScore of the last value against the trailing window including it. A flat
// window yields 0.
func ZScore(values []float64, window int) float64 {
    if window <= 1 || len(values) < window {
        return math.NaN()
    }
    w := values[len(values)-window:]
    mean, sd := stat.MeanStdDev(w, nil)
    if sd == 0 {
        return 0
    }
    return (w[len(w)-1] - mean) / sd
}
