package classifier

import (
    "context"
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
    "SignalPulse/internal/domain/service"
    "SignalPulse/pkg/retry"
)

func request() models.ClassifyRequest {
    return models.ClassifyRequest{
        Symbol:   "BTCUSDT",
        Interval: "15m",
        Price:    65000,
        Features: models.FeatureVector{"ema_20": 64900, "ema_50": 64000, "rsi_14": 58, "macd_hist": 12, "atr_14": 300, "close": 65000},
        Timezone: "UTC",
    }
}

func TestParseSignalFencedPercent(t *testing.T) {
    text := "```json\n{\"symbol\":\"BTCUSDT\",\"signal\":\"BUY\",\"confidence\":\"87%\",\"reasoning\":\"  trend up  \"," +
        "\"validation\":{\"support_levels\":[64000,-1],\"resistance_levels\":[66000],\"stop_loss\":63500,\"take_profits\":[66500,\"67000\"]}}\n```"

    sig, err := ParseSignal(text, request())
    require.NoError(t, err)
    assert.Equal(t, models.DirectionBuy, sig.Direction)
    assert.InDelta(t, 0.87, sig.Confidence, 1e-9)
    assert.Equal(t, "trend up", sig.Rationale)
    assert.Equal(t, []float64{64000}, sig.Support)
    assert.Equal(t, []float64{66000}, sig.Resistance)
    require.NotNil(t, sig.StopLoss)
    assert.Equal(t, 63500.0, *sig.StopLoss)
    assert.Equal(t, []float64{66500, 67000}, sig.TakeProfits)
}

func TestParseSignalTopLevelLevelsAndNeutral(t *testing.T) {
    sig, err := ParseSignal(`noise {"signal":"neutral","confidence":0.4,"support_levels":[1.5],"stop_loss":null} trailing`, request())
    require.NoError(t, err)
    assert.Equal(t, models.DirectionHold, sig.Direction)
    assert.Equal(t, []float64{1.5}, sig.Support)
    assert.Nil(t, sig.StopLoss)
}

func TestParseSignalRejects(t *testing.T) {
    cases := map[string]string{
        "no json":        "I think it goes up",
        "bad direction":  `{"signal":"MOON","confidence":0.9}`,
        "out of range":   `{"signal":"BUY","confidence":150}`,
        "negative":       `{"signal":"BUY","confidence":-0.2}`,
        "no confidence":  `{"signal":"BUY"}`,
        "broken json":    `{"signal":"BUY","confidence":}`,
    }
    for name, text := range cases {
        t.Run(name, func(t *testing.T) {
            _, err := ParseSignal(text, request())
            require.Error(t, err)
            assert.True(t, errors.Is(err, errs.ErrClassifier))
        })
    }
}

func TestParseSignalTrimsReasoning(t *testing.T) {
    long := strings.Repeat("x", 1000)
    sig, err := ParseSignal(`{"signal":"SELL","confidence":0.8,"reasoning":"`+long+`"}`, request())
    require.NoError(t, err)
    assert.LessOrEqual(t, len([]rune(sig.Rationale)), MaxRationale+3)
}

func TestBuildPrompt(t *testing.T) {
    req := request()
    req.Headlines = []string{"a", "b", "c", "d"}
    req.ContextLink = "https://tv.example/chart"
    out := BuildPrompt(req, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

    assert.Contains(t, out, "Symbol: BTCUSDT")
    assert.Contains(t, out, "EMA20: 64900.0000")
    assert.Contains(t, out, "Headlines (optional): a | b | c\n")
    assert.Contains(t, out, "Chart: https://tv.example/chart")
    assert.Contains(t, out, "No candle data available")
    assert.Contains(t, out, "REQUIRED JSON SCHEMA")
}

func geminiServer(t *testing.T, handler http.HandlerFunc) *GeminiClassifier {
    t.Helper()
    srv := httptest.NewServer(handler)
    t.Cleanup(srv.Close)
    return NewGeminiClassifier(GeminiConfig{APIKey: "k", Model: "gemini-test", BaseURL: srv.URL, Timeout: time.Second})
}

func TestGeminiClassify(t *testing.T) {
    g := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
        assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))

        var body geminiRequest
        require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
        assert.Equal(t, "application/json", body.GenerationConfig.ResponseMimeType)
        require.Len(t, body.Contents, 1)
        assert.Contains(t, body.Contents[0].Parts[0].Text, "BTCUSDT")

        _ = json.NewEncoder(w).Encode(map[string]interface{}{
            "candidates": []interface{}{map[string]interface{}{
                "content": map[string]interface{}{"parts": []interface{}{
                    map[string]string{"text": `{"signal":"BUY","confidence":0.87,"reasoning":"breakout"}`},
                }},
            }},
        })
    })

    sig, err := g.Classify(context.Background(), request())
    require.NoError(t, err)
    assert.Equal(t, models.DirectionBuy, sig.Direction)
    assert.Equal(t, "gemini-test", sig.Model)
    assert.Equal(t, "BTCUSDT", sig.Symbol)
}

func TestGeminiErrorMapping(t *testing.T) {
    t.Run("rate limited", func(t *testing.T) {
        g := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
            w.Header().Set("Retry-After", "7")
            w.WriteHeader(http.StatusTooManyRequests)
        })
        _, err := g.Classify(context.Background(), request())
        require.Error(t, err)
        assert.True(t, errors.Is(err, errs.ErrClassifierRateLimited))
        hint, ok := errs.RetryAfter(err)
        assert.True(t, ok)
        assert.Equal(t, 7*time.Second, hint)
        assert.False(t, retry.IsPermanent(err))
    })

    t.Run("server error", func(t *testing.T) {
        g := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
            w.WriteHeader(http.StatusBadGateway)
        })
        _, err := g.Classify(context.Background(), request())
        assert.True(t, errors.Is(err, errs.ErrClassifier))
        assert.False(t, retry.IsPermanent(err))
    })

    t.Run("bad request is permanent", func(t *testing.T) {
        g := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
            w.WriteHeader(http.StatusBadRequest)
        })
        _, err := g.Classify(context.Background(), request())
        assert.True(t, errors.Is(err, errs.ErrClassifier))
        assert.True(t, retry.IsPermanent(err))
    })

    t.Run("deadline", func(t *testing.T) {
        release := make(chan struct{})
        g := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
            _, _ = io.Copy(io.Discard, r.Body)
            select {
            case <-r.Context().Done():
            case <-release:
            }
        })
        t.Cleanup(func() { close(release) })
        ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
        defer cancel()
        _, err := g.Classify(ctx, request())
        assert.True(t, errors.Is(err, errs.ErrClassifierTimeout))
    })
}

type fakeClassifier struct {
    calls int32
    fn    func(ctx context.Context, call int) (*models.Signal, error)
}

func (f *fakeClassifier) Name() string { return "fake" }

func (f *fakeClassifier) Classify(ctx context.Context, _ models.ClassifyRequest) (*models.Signal, error) {
    n := int(atomic.AddInt32(&f.calls, 1))
    return f.fn(ctx, n)
}

func fastRetry(inner service.Classifier, retries int, timeout time.Duration) *Retrying {
    return NewRetrying(inner, RetryConfig{RequestTimeout: timeout, MaxRetries: retries, Initial: time.Millisecond, Max: 2 * time.Millisecond}, nil)
}

func TestRetryingRecoversAndStamps(t *testing.T) {
    f := &fakeClassifier{fn: func(_ context.Context, call int) (*models.Signal, error) {
        if call == 1 {
            return nil, errs.Newf(errs.KindClassifier, "test", "flaky")
        }
        return &models.Signal{Direction: models.DirectionSell, Confidence: 0.8}, nil
    }}

    sig, err := fastRetry(f, 2, time.Second).Classify(context.Background(), request())
    require.NoError(t, err)
    assert.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
    assert.Equal(t, "BTCUSDT", sig.Symbol)
    assert.Equal(t, "15m", sig.Interval)
    assert.Equal(t, "fake", sig.Model)
    assert.False(t, sig.GeneratedAt.IsZero())
    assert.GreaterOrEqual(t, sig.LatencyMs, int64(0))
}

func TestRetryingBoundedRetries(t *testing.T) {
    f := &fakeClassifier{fn: func(context.Context, int) (*models.Signal, error) {
        return nil, errors.New("boom")
    }}

    _, err := fastRetry(f, 2, time.Second).Classify(context.Background(), request())
    require.Error(t, err)
    assert.EqualValues(t, 3, atomic.LoadInt32(&f.calls))
    assert.Equal(t, errs.KindClassifier, errs.KindOf(err))
}

func TestRetryingInvalidSignalIsClassifierError(t *testing.T) {
    f := &fakeClassifier{fn: func(context.Context, int) (*models.Signal, error) {
        return &models.Signal{Direction: models.DirectionBuy, Confidence: 1.7}, nil
    }}

    _, err := fastRetry(f, 1, time.Second).Classify(context.Background(), request())
    assert.True(t, errors.Is(err, errs.ErrClassifier))
    assert.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
}

func TestRetryingPermanentStops(t *testing.T) {
    f := &fakeClassifier{fn: func(context.Context, int) (*models.Signal, error) {
        return nil, retry.Permanent(errs.Newf(errs.KindClassifier, "test", "bad request"))
    }}

    _, err := fastRetry(f, 3, time.Second).Classify(context.Background(), request())
    assert.True(t, errors.Is(err, errs.ErrClassifier))
    assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
}

func TestRetryingAttemptTimeout(t *testing.T) {
    f := &fakeClassifier{fn: func(ctx context.Context, _ int) (*models.Signal, error) {
        <-ctx.Done()
        return nil, ctx.Err()
    }}

    _, err := fastRetry(f, 1, 20*time.Millisecond).Classify(context.Background(), request())
    assert.True(t, errors.Is(err, errs.ErrClassifierTimeout))
    assert.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
}

func TestRetryingParentCancelStops(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    f := &fakeClassifier{fn: func(ctx context.Context, _ int) (*models.Signal, error) {
        cancel()
        <-ctx.Done()
        return nil, ctx.Err()
    }}

    _, err := fastRetry(f, 5, time.Second).Classify(ctx, request())
    assert.Equal(t, errs.KindCancelled, errs.KindOf(err))
    assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
}

func TestRetryingHonoursRetryAfter(t *testing.T) {
    f := &fakeClassifier{fn: func(_ context.Context, call int) (*models.Signal, error) {
        if call == 1 {
            return nil, &errs.Error{Kind: errs.KindClassifierRateLimited, Op: "test", RetryAfter: 40 * time.Millisecond}
        }
        return &models.Signal{Direction: models.DirectionHold, Confidence: 0.3}, nil
    }}

    start := time.Now()
    _, err := fastRetry(f, 2, time.Second).Classify(context.Background(), request())
    require.NoError(t, err)
    assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRuleClassifier(t *testing.T) {
    sig, err := NewRuleClassifier().Classify(context.Background(), request())
    require.NoError(t, err)
    assert.Equal(t, models.DirectionBuy, sig.Direction)
    assert.True(t, sig.Valid())
    require.NotNil(t, sig.StopLoss)
    assert.Less(t, *sig.StopLoss, 65000.0)
    assert.Len(t, sig.TakeProfits, 2)

    again, err := NewRuleClassifier().Classify(context.Background(), request())
    require.NoError(t, err)
    assert.Equal(t, sig, again)

    req := request()
    req.Features = models.FeatureVector{"ema_20": 1}
    _, err = NewRuleClassifier().Classify(context.Background(), req)
    assert.True(t, errors.Is(err, errs.ErrClassifier))
}

func TestRegistry(t *testing.T) {
    r := NewRegistry()
    r.Register("rules", func() (service.Classifier, error) { return NewRuleClassifier(), nil })

    c, err := r.Build("rules")
    require.NoError(t, err)
    assert.Equal(t, "rules", c.Name())

    _, err = r.Build("gpt")
    assert.True(t, errors.Is(err, errs.ErrConfig))
    assert.Equal(t, []string{"rules"}, r.Keys())
}
