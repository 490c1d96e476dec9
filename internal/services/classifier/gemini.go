package classifier

import (
    "context"
    "errors"
    "net/http"
    "strings"
    "time"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
    xhttp "SignalPulse/pkg/http"
    "SignalPulse/pkg/retry"
)

// GeminiConfig configures the Gemini REST classifier.
type GeminiConfig struct {
    APIKey      string
    Model       string
    BaseURL     string
    Temperature float64
    Timeout     time.Duration
}

// GeminiClassifier asks Google's Generative Language API for a signal.
type GeminiClassifier struct {
    *HTTPServiceBase
    cfg GeminiConfig
    now func() time.Time
}

type geminiPart struct {
    Text string `json:"text"`
}

type geminiContent struct {
    Role  string       `json:"role,omitempty"`
    Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
    Contents          []geminiContent  `json:"contents"`
    SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
    GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
    Temperature      float64 `json:"temperature"`
    MaxOutputTokens  int     `json:"maxOutputTokens"`
    ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
    Candidates []struct {
        Content      geminiContent `json:"content"`
        FinishReason string        `json:"finishReason"`
    } `json:"candidates"`
    PromptFeedback *struct {
        BlockReason string `json:"blockReason"`
    } `json:"promptFeedback"`
}

// NewGeminiClassifier creates the Gemini backed classifier.
func NewGeminiClassifier(cfg GeminiConfig) *GeminiClassifier {
    if cfg.Model == "" {
        cfg.Model = "gemini-1.5-pro"
    }
    if cfg.BaseURL == "" {
        cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
    }
    return &GeminiClassifier{
        HTTPServiceBase: NewHTTPServiceBase(cfg.BaseURL, cfg.Timeout),
        cfg:             cfg,
        now:             time.Now,
    }
}

func (g *GeminiClassifier) Name() string { return "gemini:" + g.cfg.Model }

// Classify sends one generateContent request. It does not retry.
func (g *GeminiClassifier) Classify(ctx context.Context, req models.ClassifyRequest) (*models.Signal, error) {
    const op = "classifier.gemini"
    body := geminiRequest{
        Contents: []geminiContent{{
            Role:  "user",
            Parts: []geminiPart{{Text: BuildPrompt(req, g.now())}},
        }},
        SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: SystemPrompt}}},
        GenerationConfig: generationConfig{
            Temperature:      g.cfg.Temperature,
            MaxOutputTokens:  1000,
            ResponseMimeType: "application/json",
        },
    }
    headers := map[string]string{"x-goog-api-key": g.cfg.APIKey}

    var resp geminiResponse
    path := "/models/" + g.cfg.Model + ":generateContent"
    if err := g.PostJSON(ctx, path, headers, body, &resp); err != nil {
        return nil, mapHTTPError(ctx, op, err)
    }

    if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
        return nil, errs.Newf(errs.KindClassifier, op, "prompt blocked: %s", resp.PromptFeedback.BlockReason)
    }
    var text strings.Builder
    for _, c := range resp.Candidates {
        for _, p := range c.Content.Parts {
            text.WriteString(p.Text)
        }
        if text.Len() > 0 {
            break
        }
    }
    if text.Len() == 0 {
        return nil, errs.Newf(errs.KindClassifier, op, "empty response")
    }

    sig, err := ParseSignal(text.String(), req)
    if err != nil {
        return nil, err
    }
    sig.Model = g.cfg.Model
    return sig, nil
}

// mapHTTPError turns a transport or status failure into the classifier taxonomy.
// Non-retryable statuses are marked permanent.
func mapHTTPError(ctx context.Context, op string, err error) error {
    if ctxErr := ctx.Err(); ctxErr != nil {
        if errors.Is(ctxErr, context.DeadlineExceeded) {
            return errs.New(errs.KindClassifierTimeout, op, err)
        }
        return errs.New(errs.KindCancelled, op, err)
    }
    if se, ok := xhttp.AsStatusError(err); ok {
        switch {
        case se.Throttled():
            return &errs.Error{Kind: errs.KindClassifierRateLimited, Op: op, RetryAfter: se.RetryAfter(), Err: err}
        case se.Code == http.StatusRequestTimeout || se.Code == http.StatusGatewayTimeout:
            return errs.New(errs.KindClassifierTimeout, op, err)
        case se.Transient():
            return errs.New(errs.KindClassifier, op, err)
        default:
            return retry.Permanent(errs.New(errs.KindClassifier, op, err))
        }
    }
    if xhttp.IsTimeout(err) {
        return errs.New(errs.KindClassifierTimeout, op, err)
    }
    return errs.New(errs.KindClassifier, op, err)
}
