package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/health"
	"SignalPulse/internal/service/ratelimit"
	"SignalPulse/internal/usecase"
	xlogger "SignalPulse/pkg/logger"
)

type fakeScheduler struct {
	mu      sync.Mutex
	running bool
	calls   []usecase.RunOptions
	err     error
}

func (f *fakeScheduler) RunOnce(_ context.Context, symbol, interval string, opts usecase.RunOptions) (*models.RunOnceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	sig := &models.Signal{Symbol: symbol, Interval: interval, Direction: models.DirectionBuy, Confidence: 0.8}
	return &models.RunOnceResult{JobKey: models.JobKey(symbol, interval, "binance"), Signal: sig, Delivered: !opts.SkipDeliver}, nil
}

func (f *fakeScheduler) Start(context.Context) error { f.running = true; return nil }
func (f *fakeScheduler) Stop(context.Context) error  { f.running = false; return nil }
func (f *fakeScheduler) Running() bool               { return f.running }
func (f *fakeScheduler) Jobs() []string              { return []string{"BTCUSDT|15m|binance"} }
func (f *fakeScheduler) Status(limit int) health.Snapshot {
	return health.Snapshot{Status: health.StatusStarting, Running: f.running, Jobs: map[string]health.JobStatus{}}
}

type fakeHealth struct{ ready bool }

func (f fakeHealth) Ready() bool { return f.ready }
func (f fakeHealth) Status() string {
	if f.ready {
		return health.StatusReady
	}
	return health.StatusDegraded
}
func (f fakeHealth) Uptime() time.Duration { return 90 * time.Second }

type fakeQueue struct {
	msgType string
	payload interface{}
	err     error
}

func (f *fakeQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	f.msgType, f.payload = msgType, payload
	return "msg-1", f.err
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newServer(h *SignalsHandler) *echo.Echo {
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string, hdr map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func testConfig() Config {
	return Config{Name: "signalpulse", Version: "test", TriggerLimit: ratelimit.Limit{RPS: 100, Burst: 100}}
}

func TestHealthzAlwaysOK(t *testing.T) {
	e := newServer(NewSignalsHandler(xlogger.Nop(), &fakeScheduler{}, fakeHealth{}, nil, testConfig()))
	rec, env := do(t, e, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
	assert.Contains(t, string(env.Data), `"uptime":"1m30s"`)
}

func TestReadyzFollowsRegistry(t *testing.T) {
	sched := &fakeScheduler{}
	e := newServer(NewSignalsHandler(xlogger.Nop(), sched, fakeHealth{ready: false}, nil, testConfig()))
	rec, _ := do(t, e, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	e = newServer(NewSignalsHandler(xlogger.Nop(), sched, fakeHealth{ready: true}, nil, testConfig()))
	rec, _ = do(t, e, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusValidatesLimit(t *testing.T) {
	e := newServer(NewSignalsHandler(xlogger.Nop(), &fakeScheduler{}, fakeHealth{}, nil, testConfig()))
	rec, _ := do(t, e, http.MethodGet, "/status?limit=5", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, e, http.MethodGet, "/status?limit=5000", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleControlIsIdempotent(t *testing.T) {
	sched := &fakeScheduler{}
	e := newServer(NewSignalsHandler(xlogger.Nop(), sched, fakeHealth{}, nil, testConfig()))
	for i := 0; i < 2; i++ {
		rec, env := do(t, e, http.MethodPost, "/schedule/start", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"running":true}`, string(env.Data))
	}
	for i := 0; i < 2; i++ {
		_, env := do(t, e, http.MethodPost, "/schedule/stop", "", nil)
		assert.JSONEq(t, `{"running":false}`, string(env.Data))
	}
}

func TestRunOnce(t *testing.T) {
	sched := &fakeScheduler{}
	e := newServer(NewSignalsHandler(xlogger.Nop(), sched, fakeHealth{}, nil, testConfig()))

	rec, env := do(t, e, http.MethodPost, "/signal/once", `{"symbol":"BTCUSDT","interval":"1h","dry_run":true,"tradingview_link":"https://www.tradingview.com/chart/x"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res models.RunOnceResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "BTCUSDT|1h|binance", res.JobKey)
	assert.False(t, res.Delivered)
	require.Len(t, sched.calls, 1)
	assert.True(t, sched.calls[0].SkipDeliver)
	assert.Equal(t, models.TriggerManual, sched.calls[0].Trigger)

	rec, _ = do(t, e, http.MethodPost, "/signal/once", `{"symbol":"BTCUSDT"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "interval defaults")

	rec, _ = do(t, e, http.MethodPost, "/signal/once", `{"interval":"15m"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/signal/once", `{"symbol":"BTCUSDT","interval":"2h"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunOnceErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"config", errs.Config("provider %q does not support interval", "yahoo"), http.StatusBadRequest},
		{"rate limited", errs.RateLimited("binance.klines", 30*time.Second, errors.New("429")), http.StatusTooManyRequests},
		{"timeout", errs.New(errs.KindTimeout, "scheduler.run", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"classifier", errs.Newf(errs.KindClassifier, "gemini", "bad json"), http.StatusBadGateway},
		{"delivery", errs.Newf(errs.KindDeliveryFailed, "discord", "500"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newServer(NewSignalsHandler(xlogger.Nop(), &fakeScheduler{err: tc.err}, fakeHealth{}, nil, testConfig()))
			rec, _ := do(t, e, http.MethodPost, "/signal/once", `{"symbol":"BTCUSDT","interval":"15m"}`, nil)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusTooManyRequests {
				assert.Equal(t, "30", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestTriggerRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.TriggerLimit = ratelimit.Limit{RPS: 0.001, Burst: 1}
	e := newServer(NewSignalsHandler(xlogger.Nop(), &fakeScheduler{}, fakeHealth{}, nil, cfg))

	rec, _ := do(t, e, http.MethodPost, "/signal/once", `{"symbol":"BTCUSDT"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/signal/once", `{"symbol":"BTCUSDT"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestWebhookDisabledByDefault(t *testing.T) {
	e := newServer(NewSignalsHandler(xlogger.Nop(), &fakeScheduler{}, fakeHealth{}, nil, testConfig()))
	rec, _ := do(t, e, http.MethodPost, "/webhook/tradingview", `{"symbol":"BTCUSDT"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookEnqueues(t *testing.T) {
	cfg := testConfig()
	cfg.AllowWebhook = true
	cfg.WebhookSecret = "s3cret"
	q := &fakeQueue{}
	sched := &fakeScheduler{}
	e := newServer(NewSignalsHandler(xlogger.Nop(), sched, fakeHealth{}, q, cfg))

	rec, _ := do(t, e, http.MethodPost, "/webhook/tradingview", `{"symbol":"BTCUSDT","secret":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/webhook/tradingview", `{"symbol":"BTCUSDT","interval":"1h","link":"https://tv.example/x"}`,
		map[string]string{"X-Webhook-Secret": "s3cret"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, usecase.TriggerJobType, q.msgType)
	p, ok := q.payload.(models.TriggerPayload)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.Equal(t, "1h", p.Interval)
	assert.Equal(t, models.TriggerWebhook, p.Source)
	assert.Empty(t, sched.calls)
}

func TestWebhookRunsInlineWithoutQueue(t *testing.T) {
	cfg := testConfig()
	cfg.AllowWebhook = true
	sched := &fakeScheduler{}
	e := newServer(NewSignalsHandler(xlogger.Nop(), sched, fakeHealth{}, nil, cfg))

	rec, _ := do(t, e, http.MethodPost, "/webhook/tradingview", `{"symbol":"ETHUSDT","link":"https://tv.example/y"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sched.calls, 1)
	assert.Equal(t, models.TriggerWebhook, sched.calls[0].Trigger)
	assert.Equal(t, "https://tv.example/y", sched.calls[0].ContextLink)
}
