package delivery

import (
    "fmt"
    "strings"
    "time"

    "SignalPulse/internal/domain/models"
    "SignalPulse/pkg/util"
)

// Embed colours by direction.
const (
    ColorBuy      = 0x00ff00
    ColorSell     = 0xff0000
    ColorNeutral  = 0x808080
    ColorDegraded = 0xffa500
)

const maxFieldValue = 1024

// Field is one labelled value of a rendered message.
type Field struct {
    Name   string
    Value  string
    Inline bool
}

// Rendered is a sink-neutral formatted message.
type Rendered struct {
    Content     string
    Title       string
    Description string
    Color       int
    Fields      []Field
    Footer      string
    Timestamp   time.Time
}

// MentionConfig says how a broadcast mention is written.
type MentionConfig struct {
    Mode  string // "id" renders a role mention, anything else is literal
    Value string
}

// Formatter renders messages for all sinks.
type Formatter struct {
    mention  MentionConfig
    location *time.Location
    footer   string
}

// NewFormatter creates a formatter. Timestamps are shown in timezone.
func NewFormatter(mention MentionConfig, timezone string) *Formatter {
    return &Formatter{
        mention:  mention,
        location: util.LoadLocation(timezone),
        footer:   "SignalPulse - signals are informational only",
    }
}

// MentionString returns the role mention text.
func (f *Formatter) MentionString() string {
    if f.mention.Value == "" {
        return ""
    }
    if f.mention.Mode == "id" {
        return "<@&" + f.mention.Value + ">"
    }
    return f.mention.Value
}

// Render formats msg according to its kind.
func (f *Formatter) Render(msg models.Message) Rendered {
    ts := msg.CreatedAt
    if ts.IsZero() {
        ts = time.Now()
    }
    switch msg.Kind {
    case models.MessageHeartbeat:
        return f.heartbeat(msg, ts)
    case models.MessageDegraded:
        return f.degraded(msg, ts)
    default:
        return f.signal(msg, ts)
    }
}

// Title is the headline, e.g. "BUY (87%) - BTCUSDT 15m".
func Title(s *models.Signal) string {
    return fmt.Sprintf("%s (%d%%) - %s %s", s.Direction.Label(), int(s.Confidence*100+0.5), s.Symbol, s.Interval)
}

func colorOf(d models.Direction) int {
    switch d {
    case models.DirectionBuy:
        return ColorBuy
    case models.DirectionSell:
        return ColorSell
    default:
        return ColorNeutral
    }
}

func (f *Formatter) signal(msg models.Message, ts time.Time) Rendered {
    s := msg.Signal
    if s == nil {
        s = &models.Signal{Symbol: msg.Symbol, Interval: msg.Interval, Direction: models.DirectionHold}
    }
    r := Rendered{
        Title:     Title(s),
        Color:     colorOf(s.Direction),
        Footer:    f.footer,
        Timestamp: ts,
    }
    if msg.Mention {
        r.Content = f.MentionString()
    }

    reason := s.Rationale
    if reason == "" {
        reason = "n/a"
    }
    r.Fields = append(r.Fields, Field{Name: "Reason", Value: util.Truncate(reason, maxFieldValue-3)})
    if s.Price > 0 {
        r.Fields = append(r.Fields, Field{Name: "Price", Value: price(s.Price), Inline: true})
    }
    if s.StopLoss != nil {
        r.Fields = append(r.Fields, Field{Name: "Stop Loss", Value: price(*s.StopLoss), Inline: true})
    }
    if len(s.TakeProfits) > 0 {
        r.Fields = append(r.Fields, Field{Name: "Take Profits", Value: prices(s.TakeProfits), Inline: true})
    }
    if len(s.Support) > 0 {
        r.Fields = append(r.Fields, Field{Name: "Support Levels", Value: prices(s.Support), Inline: true})
    }
    if len(s.Resistance) > 0 {
        r.Fields = append(r.Fields, Field{Name: "Resistance Levels", Value: prices(s.Resistance), Inline: true})
    }
    r.Fields = append(r.Fields,
        Field{Name: "Model / Latency", Value: fmt.Sprintf("%s (%dms)", s.Model, s.LatencyMs), Inline: true},
        Field{Name: "Timestamp", Value: f.stamp(ts), Inline: true},
    )
    if msg.ContextLink != "" {
        r.Fields = append(r.Fields, Field{Name: "Chart", Value: msg.ContextLink})
    }
    return r
}

func (f *Formatter) heartbeat(msg models.Message, ts time.Time) Rendered {
    return Rendered{
        Title:       fmt.Sprintf("NEUTRAL - %s %s", msg.Symbol, msg.Interval),
        Description: fmt.Sprintf("NEUTRAL | %s %s | price: %s | Last signal: %s | Health OK", msg.Symbol, msg.Interval, price(msg.Price), lastSignal(msg.LastSignal)),
        Color:       ColorNeutral,
        Footer:      "SignalPulse - heartbeat",
        Timestamp:   ts,
    }
}

func (f *Formatter) degraded(msg models.Message, ts time.Time) Rendered {
    return Rendered{
        Title: fmt.Sprintf("DEGRADED - %s %s", msg.Symbol, msg.Interval),
        Description: fmt.Sprintf("%d consecutive failed runs, last failure: %s | Last signal: %s",
            msg.FailureStreak, msg.FailureKind, lastSignal(msg.LastSignal)),
        Color:     ColorDegraded,
        Footer:    "SignalPulse - heartbeat",
        Timestamp: ts,
    }
}

func (f *Formatter) stamp(ts time.Time) string {
    return ts.In(f.location).Format("2006-01-02 15:04:05 MST")
}

// Text renders r as plain Markdown, for chat APIs without embeds.
func (r Rendered) Text() string {
    var b strings.Builder
    if r.Content != "" {
        b.WriteString(r.Content)
        b.WriteString("\n")
    }
    b.WriteString("*" + r.Title + "*")
    if r.Description != "" {
        b.WriteString("\n" + r.Description)
    }
    for _, fl := range r.Fields {
        fmt.Fprintf(&b, "\n%s: %s", fl.Name, fl.Value)
    }
    return b.String()
}

func lastSignal(s *models.Signal) string {
    if s == nil {
        return "None"
    }
    return fmt.Sprintf("%s @ %.2f", s.Direction.Label(), s.Confidence)
}

func price(v float64) string { return fmt.Sprintf("%.4f", v) }

func prices(vs []float64) string {
    parts := make([]string, len(vs))
    for i, v := range vs {
        parts[i] = price(v)
    }
    return strings.Join(parts, ", ")
}
