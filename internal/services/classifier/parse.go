package classifier

import (
    "encoding/json"
    "fmt"
    "strconv"
    "strings"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
    "SignalPulse/pkg/util"
)

// MaxRationale bounds the reasoning kept on a signal.
const MaxRationale = 400

// flexFloat accepts 0.87, "0.87" and "87%".
type flexFloat struct {
    v   float64
    set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
    s := strings.TrimSpace(string(b))
    if s == "null" {
        return nil
    }
    s = strings.Trim(s, `"`)
    s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
    v, err := strconv.ParseFloat(s, 64)
    if err != nil {
        return fmt.Errorf("not a number: %s", b)
    }
    f.v, f.set = v, true
    return nil
}

type levels struct {
    Support     []flexFloat `json:"support_levels"`
    Resistance  []flexFloat `json:"resistance_levels"`
    StopLoss    *flexFloat  `json:"stop_loss"`
    TakeProfits []flexFloat `json:"take_profits"`
}

type rawSignal struct {
    Symbol     string    `json:"symbol"`
    Timeframe  string    `json:"timeframe"`
    Signal     string    `json:"signal"`
    Confidence flexFloat `json:"confidence"`
    Reasoning  string    `json:"reasoning"`
    Validation *levels   `json:"validation"`
    levels
}

// ParseSignal decodes a model answer into a Signal for req. Any problem is a
// classifier_error.
func ParseSignal(text string, req models.ClassifyRequest) (*models.Signal, error) {
    const op = "classifier.parse"
    body := extractJSON(text)
    if body == "" {
        return nil, errs.Newf(errs.KindClassifier, op, "no JSON object in response")
    }

    var raw rawSignal
    if err := json.Unmarshal([]byte(body), &raw); err != nil {
        return nil, errs.Newf(errs.KindClassifier, op, "decode: %w", err)
    }

    dir, ok := models.ParseDirection(raw.Signal)
    if !ok {
        return nil, errs.Newf(errs.KindClassifier, op, "unknown signal %q", raw.Signal)
    }
    if !raw.Confidence.set {
        return nil, errs.Newf(errs.KindClassifier, op, "missing confidence")
    }
    conf := raw.Confidence.v
    if conf > 1 && conf <= 100 {
        conf /= 100
    }
    if conf < 0 || conf > 1 {
        return nil, errs.Newf(errs.KindClassifier, op, "confidence %v out of range", raw.Confidence.v)
    }

    lv := raw.levels
    if raw.Validation != nil {
        lv = *raw.Validation
    }

    sig := &models.Signal{
        Symbol:      req.Symbol,
        Interval:    req.Interval,
        Direction:   dir,
        Confidence:  conf,
        Rationale:   util.Truncate(strings.TrimSpace(raw.Reasoning), MaxRationale),
        Support:     positives(lv.Support),
        Resistance:  positives(lv.Resistance),
        TakeProfits: positives(lv.TakeProfits),
        Price:       req.Price,
    }
    if lv.StopLoss != nil && lv.StopLoss.set && lv.StopLoss.v > 0 {
        sl := lv.StopLoss.v
        sig.StopLoss = &sl
    }
    return sig, nil
}

// extractJSON strips markdown fences and returns the outermost object.
func extractJSON(text string) string {
    s := strings.TrimSpace(text)
    s = strings.TrimPrefix(s, "```json")
    s = strings.TrimPrefix(s, "```")
    s = strings.TrimSuffix(s, "```")
    start := strings.Index(s, "{")
    end := strings.LastIndex(s, "}")
    if start < 0 || end <= start {
        return ""
    }
    return s[start : end+1]
}

func positives(in []flexFloat) []float64 {
    var out []float64
    for _, f := range in {
        if f.set && f.v > 0 {
            out = append(out, f.v)
        }
    }
    return out
}
