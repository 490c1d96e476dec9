package classifier

import (
    "context"
    "fmt"
    "math"
    "strings"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
)

// RuleClassifier scores trend and momentum indicators without any network call.
// The same request always yields the same signal.
type RuleClassifier struct{}

// NewRuleClassifier creates the offline classifier.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

func (RuleClassifier) Name() string { return "rules" }

// Classify votes on EMA trend, MACD histogram, RSI extremes and price versus EMA20.
func (RuleClassifier) Classify(ctx context.Context, req models.ClassifyRequest) (*models.Signal, error) {
    const op = "classifier.rules"
    if err := ctx.Err(); err != nil {
        return nil, errs.New(errs.KindCancelled, op, err)
    }

    f := req.Features
    ema20, ok1 := f.Get("ema_20")
    ema50, ok2 := f.Get("ema_50")
    rsi, ok3 := f.Get("rsi_14")
    hist, ok4 := f.Get("macd_hist")
    if !ok1 || !ok2 || !ok3 || !ok4 {
        return nil, errs.Newf(errs.KindClassifier, op, "missing indicators")
    }
    price := req.Price
    if price <= 0 {
        price, _ = f.Get("close")
    }

    score := 0
    var reasons []string
    vote := func(cond bool, delta int, reason string) {
        if cond {
            score += delta
            reasons = append(reasons, reason)
        }
    }
    vote(ema20 > ema50, 1, "EMA20 above EMA50")
    vote(ema20 < ema50, -1, "EMA20 below EMA50")
    vote(hist > 0, 1, "MACD histogram positive")
    vote(hist < 0, -1, "MACD histogram negative")
    vote(rsi < 30, 1, fmt.Sprintf("RSI oversold at %.1f", rsi))
    vote(rsi > 70, -1, fmt.Sprintf("RSI overbought at %.1f", rsi))
    vote(price > 0 && price > ema20, 1, "price above EMA20")
    vote(price > 0 && price < ema20, -1, "price below EMA20")

    dir := models.DirectionHold
    switch {
    case score >= 2:
        dir = models.DirectionBuy
    case score <= -2:
        dir = models.DirectionSell
    }
    conf := 0.4
    if dir != models.DirectionHold {
        conf = math.Min(0.5+0.1*math.Abs(float64(score)), 0.95)
    }

    sig := &models.Signal{
        Symbol:     req.Symbol,
        Interval:   req.Interval,
        Direction:  dir,
        Confidence: conf,
        Rationale:  fmt.Sprintf("score %+d: %s", score, strings.Join(reasons, ", ")),
        Price:      price,
        Model:      "rules",
    }
    sig.Support, sig.Resistance = recentRange(req.Candles, 20)

    if atr, ok := f.Get("atr_14"); ok && atr > 0 && price > 0 && dir.Actionable() {
        side := 1.0
        if dir == models.DirectionSell {
            side = -1
        }
        sl := price - side*1.5*atr
        sig.StopLoss = &sl
        sig.TakeProfits = []float64{price + side*2*atr, price + side*3*atr}
    }
    return sig, nil
}

func recentRange(candles []models.Candle, n int) (support, resistance []float64) {
    if len(candles) == 0 {
        return nil, nil
    }
    if len(candles) > n {
        candles = candles[len(candles)-n:]
    }
    lo, hi := candles[0].Low, candles[0].High
    for _, c := range candles[1:] {
        lo = math.Min(lo, c.Low)
        hi = math.Max(hi, c.High)
    }
    if lo > 0 {
        support = []float64{lo}
    }
    if hi > 0 {
        resistance = []float64{hi}
    }
    return support, resistance
}
