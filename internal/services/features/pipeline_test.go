package features

import (
    "math"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
)

func window(n int) models.CandleWindow {
    start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
    bars := make([]models.Candle, n)
    for i := 0; i < n; i++ {
        base := 100 + 10*math.Sin(float64(i)/5) + float64(i)*0.1
        bars[i] = models.Candle{
            Bucket: start.Add(time.Duration(i) * 15 * time.Minute),
            Open:   base - 0.5,
            High:   base + 1,
            Low:    base - 1,
            Close:  base,
            Volume: 1000 + float64(i%7)*50,
        }
    }
    return models.NewCandleWindow("BTCUSDT", "15m", bars, n)
}

func TestMinBars(t *testing.T) {
    p := NewPipeline()
    assert.Equal(t, 50, p.MinBars())
}

func TestComputeDeterministic(t *testing.T) {
    p := NewPipeline()
    w := window(120)

    first, err := p.Compute(w)
    require.NoError(t, err)
    for i := 0; i < 5; i++ {
        again, err := p.Compute(w)
        require.NoError(t, err)
        assert.Equal(t, first, again)
    }

    for _, name := range []string{"close", "change_pct", "ema_20", "ema_50", "rsi_14", "macd", "macd_signal", "macd_hist", "atr_14", "realized_vol", "volume_z"} {
        _, ok := first.Get(name)
        assert.True(t, ok, name)
    }
    assert.InDelta(t, first["macd"]-first["macd_signal"], first["macd_hist"], 1e-12)
}

func TestComputeInsufficientData(t *testing.T) {
    p := NewPipeline()
    for _, n := range []int{0, 1, 20, 49} {
        f, err := p.Compute(window(n))
        require.Error(t, err)
        assert.Nil(t, f)
        assert.ErrorIs(t, err, errs.ErrInsufficientData)
    }
    _, err := p.Compute(window(50))
    assert.NoError(t, err)
}

func TestComputeRejectsNonFinite(t *testing.T) {
    w := window(60)
    w.Candles[len(w.Candles)-2].Close = 0
    _, err := NewPipeline().Compute(w)
    assert.ErrorIs(t, err, errs.ErrInsufficientData)
}

func TestEMASeededWithSMA(t *testing.T) {
    e := EMA([]float64{1, 2, 3, 4}, 3)
    assert.True(t, math.IsNaN(e[0]))
    assert.True(t, math.IsNaN(e[1]))
    assert.Equal(t, 2.0, e[2])
    assert.Equal(t, 3.0, e[3])
}

func TestRSIBounds(t *testing.T) {
    up := make([]float64, 30)
    for i := range up {
        up[i] = float64(i + 1)
    }
    assert.Equal(t, 100.0, RSI(up, 14))
    flat := make([]float64, 30)
    assert.Equal(t, 50.0, RSI(flat, 14))
    assert.True(t, math.IsNaN(RSI(up[:14], 14)))
}

func TestATRConstantRange(t *testing.T) {
    w := window(30)
    for i := range w.Candles {
        w.Candles[i].Close = 100
        w.Candles[i].High = 101
        w.Candles[i].Low = 99
    }
    assert.InDelta(t, 2.0, ATR(w.Candles, 14), 1e-12)
}

func TestZScoreFlat(t *testing.T) {
    assert.Equal(t, 0.0, ZScore([]float64{5, 5, 5, 5}, 4))
    assert.Greater(t, ZScore([]float64{1, 1, 1, 10}, 4), 1.0)
}
