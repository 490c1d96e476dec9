package classifier

import (
    "fmt"
    "strings"
    "time"

    "SignalPulse/internal/domain/models"
    "SignalPulse/pkg/util"
)

// SystemPrompt frames the model as a signal engine.
const SystemPrompt = `You are an objective market signal engine. You analyze candles and indicators to output one of BUY|SELL|NEUTRAL with a numeric confidence in [0,1], never exceeding 1.0. Keep reasoning concise (at most 400 characters) and produce valid JSON only that matches the provided schema. Do not include any extra text.`

const schemaText = `{
  "symbol": "string",
  "timeframe": "string",
  "signal": "BUY|SELL|NEUTRAL",
  "confidence": "number (0.0 to 1.0)",
  "reasoning": "string (max 400 chars, concise analysis)",
  "validation": {
    "support_levels": "array of numbers",
    "resistance_levels": "array of numbers",
    "stop_loss": "number or null",
    "take_profits": "array of numbers"
  }
}`

// indicatorOrder fixes the order features are listed in.
var indicatorOrder = []struct{ key, label, format string }{
    {"ema_20", "EMA20", "%.4f"},
    {"ema_50", "EMA50", "%.4f"},
    {"rsi_14", "RSI", "%.2f"},
    {"macd", "MACD", "%.4f"},
    {"macd_signal", "MACD_Signal", "%.4f"},
    {"macd_hist", "MACD_Hist", "%.4f"},
    {"atr_14", "ATR", "%.4f"},
    {"realized_vol", "RealizedVol", "%.4f"},
    {"volume_z", "VolumeZ", "%.2f"},
    {"change_pct", "Change%", "%.2f"},
}

// BuildPrompt renders the user prompt for req at now.
func BuildPrompt(req models.ClassifyRequest, now time.Time) string {
    tz := req.Timezone
    if tz == "" {
        tz = "UTC"
    }
    loc := util.LoadLocation(tz)

    var b strings.Builder
    fmt.Fprintf(&b, "Current time (%s): %s\n", tz, now.In(loc).Format("2006-01-02 15:04:05 MST"))
    fmt.Fprintf(&b, "Symbol: %s\n", req.Symbol)
    fmt.Fprintf(&b, "Timeframe: %s\n", req.Interval)
    fmt.Fprintf(&b, "Latest price: %.4f\n", req.Price)
    fmt.Fprintf(&b, "Indicators (last %d bars summarized): %s\n", len(req.Candles), indicatorSummary(req.Features))
    fmt.Fprintf(&b, "Recent candles: %s\n", compressCandles(req.Candles))
    fmt.Fprintf(&b, "Headlines (optional): %s\n", headlineSummary(req.Headlines))
    if req.ContextLink != "" {
        fmt.Fprintf(&b, "Chart: %s\n", req.ContextLink)
    }
    b.WriteString("\nREQUIRED JSON SCHEMA:\n")
    b.WriteString(schemaText)
    b.WriteString("\n\nReturn ONLY valid JSON.")
    return b.String()
}

func indicatorSummary(f models.FeatureVector) string {
    parts := make([]string, 0, len(indicatorOrder))
    for _, ind := range indicatorOrder {
        if v, ok := f.Get(ind.key); ok {
            parts = append(parts, ind.label+": "+fmt.Sprintf(ind.format, v))
        }
    }
    if len(parts) == 0 {
        return "No indicators available"
    }
    return strings.Join(parts, " | ")
}

func headlineSummary(headlines []string) string {
    if len(headlines) == 0 {
        return "No recent headlines"
    }
    if len(headlines) > 3 {
        headlines = headlines[:3]
    }
    parts := make([]string, len(headlines))
    for i, h := range headlines {
        parts[i] = util.Truncate(h, 100)
    }
    return strings.Join(parts, " | ")
}

// compressCandles keeps the first, middle and last five bars.
func compressCandles(candles []models.Candle) string {
    if len(candles) == 0 {
        return "No candle data available"
    }
    selected := candles
    if n := len(candles); n > 15 {
        mid := n / 2
        selected = make([]models.Candle, 0, 15)
        selected = append(selected, candles[:5]...)
        selected = append(selected, candles[mid-2:mid+3]...)
        selected = append(selected, candles[n-5:]...)
    }
    parts := make([]string, len(selected))
    for i, c := range selected {
        parts[i] = fmt.Sprintf("%s: O:%.4f H:%.4f L:%.4f C:%.4f V:%.0f",
            c.Bucket.UTC().Format("01-02 15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
    }
    return strings.Join(parts, " | ")
}
