package delivery

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
    "SignalPulse/internal/domain/service"
    xhttp "SignalPulse/pkg/http"
    "SignalPulse/pkg/metrics"
    "SignalPulse/pkg/retry"
)

func buyMessage(mention bool) models.Message {
    sl := 64000.0
    return models.Message{
        Kind:     models.MessageSignal,
        JobKey:   "BTCUSDT|15m|binance",
        Symbol:   "BTCUSDT",
        Interval: "15m",
        Mention:  mention,
        Signal: &models.Signal{
            Symbol: "BTCUSDT", Interval: "15m", Direction: models.DirectionBuy, Confidence: 0.87,
            Rationale: "breakout", StopLoss: &sl, TakeProfits: []float64{66000}, Model: "rules", LatencyMs: 12,
        },
        CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
    }
}

func formatter() *Formatter {
    return NewFormatter(MentionConfig{Mode: "id", Value: "42"}, "UTC")
}

func TestFormatterSignal(t *testing.T) {
    r := formatter().Render(buyMessage(true))
    assert.Equal(t, "BUY (87%) - BTCUSDT 15m", r.Title)
    assert.Equal(t, ColorBuy, r.Color)
    assert.Equal(t, "<@&42>", r.Content)
    require.NotEmpty(t, r.Fields)
    assert.Equal(t, "Reason", r.Fields[0].Name)

    names := map[string]string{}
    for _, f := range r.Fields {
        names[f.Name] = f.Value
    }
    assert.Equal(t, "64000.0000", names["Stop Loss"])
    assert.Equal(t, "rules (12ms)", names["Model / Latency"])
}

func TestFormatterMentionOnlyWhenFlagged(t *testing.T) {
    r := formatter().Render(buyMessage(false))
    assert.Empty(t, r.Content)

    named := NewFormatter(MentionConfig{Mode: "name", Value: "@traders"}, "UTC")
    assert.Equal(t, "@traders", named.Render(buyMessage(true)).Content)
}

func TestFormatterHeartbeatAndDegraded(t *testing.T) {
    f := formatter()
    hb := f.Render(models.Message{
        Kind: models.MessageHeartbeat, Symbol: "ETHUSDT", Interval: "1h", Price: 3000,
        LastSignal: &models.Signal{Direction: models.DirectionSell, Confidence: 0.8},
    })
    assert.Equal(t, "NEUTRAL - ETHUSDT 1h", hb.Title)
    assert.Contains(t, hb.Description, "price: 3000.0000")
    assert.Contains(t, hb.Description, "Last signal: SELL @ 0.80")
    assert.Contains(t, hb.Description, "Health OK")
    assert.Empty(t, hb.Content)

    dg := f.Render(models.Message{Kind: models.MessageDegraded, Symbol: "ETHUSDT", Interval: "1h", FailureKind: "rate_limited", FailureStreak: 3})
    assert.Equal(t, ColorDegraded, dg.Color)
    assert.Contains(t, dg.Description, "3 consecutive failed runs")
    assert.Contains(t, dg.Description, "rate_limited")
}

func discordAt(url string) *DiscordSink {
    return NewDiscordSink(DiscordConfig{WebhookURL: url, Username: "bot", Embeds: true}, xhttp.NewClient(xhttp.WithTimeout(time.Second)), formatter())
}

func TestDiscordSinkPayload(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        var p discordPayload
        require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
        assert.Equal(t, "<@&42>", p.Content)
        require.Len(t, p.Embeds, 1)
        assert.Equal(t, "BUY (87%) - BTCUSDT 15m", p.Embeds[0].Title)
        w.WriteHeader(http.StatusNoContent)
    }))
    defer srv.Close()

    require.NoError(t, discordAt(srv.URL).Send(context.Background(), buyMessage(true)))
}

func TestDiscordStatusClassification(t *testing.T) {
    cases := []struct {
        status    int
        header    string
        body      string
        permanent bool
        hint      time.Duration
    }{
        {status: http.StatusBadRequest, permanent: true},
        {status: http.StatusNotFound, permanent: true},
        {status: http.StatusInternalServerError},
        {status: http.StatusTooManyRequests, header: "2", hint: 2 * time.Second},
        {status: http.StatusTooManyRequests, body: `{"retry_after": 1.5}`, hint: 1500 * time.Millisecond},
    }
    for _, tc := range cases {
        srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
            if tc.header != "" {
                w.Header().Set("Retry-After", tc.header)
            }
            w.WriteHeader(tc.status)
            _, _ = w.Write([]byte(tc.body))
        }))
        err := discordAt(srv.URL).Send(context.Background(), buyMessage(false))
        srv.Close()

        require.Error(t, err)
        assert.True(t, errors.Is(err, errs.ErrDeliveryFailed))
        assert.Equal(t, tc.permanent, retry.IsPermanent(err), "status %d", tc.status)
        hint, _ := errs.RetryAfter(err)
        assert.Equal(t, tc.hint, hint, "status %d", tc.status)
    }
}

func TestTelegramSink(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "/botT0K/sendMessage", r.URL.Path)
        var body map[string]interface{}
        require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
        assert.Equal(t, "99", body["chat_id"])
        assert.Contains(t, body["text"], "BUY (87%) - BTCUSDT 15m")
        _, _ = w.Write([]byte(`{"ok":true}`))
    }))
    defer srv.Close()

    sink := NewTelegramSink(TelegramConfig{Token: "T0K", ChatID: "99", APIURL: srv.URL}, xhttp.NewClient(), formatter())
    require.NoError(t, sink.Send(context.Background(), buyMessage(true)))
}

func TestSlackSink(t *testing.T) {
    var calls int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&calls, 1)
        assert.Equal(t, "/chat.postMessage", r.URL.Path)
        require.NoError(t, r.ParseForm())
        assert.Equal(t, "#signals", r.Form.Get("channel"))
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1.0"}`))
    }))
    defer srv.Close()

    sink := NewSlackSink(SlackConfig{Token: "xoxb", Channel: "#signals", APIURL: srv.URL}, srv.Client(), formatter())
    require.NoError(t, sink.Send(context.Background(), buyMessage(true)))
    assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSlackAPIErrorIsPermanent(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
    }))
    defer srv.Close()

    sink := NewSlackSink(SlackConfig{Token: "xoxb", Channel: "#nope", APIURL: srv.URL}, srv.Client(), formatter())
    err := sink.Send(context.Background(), buyMessage(false))
    assert.True(t, errors.Is(err, errs.ErrDeliveryFailed))
    assert.True(t, retry.IsPermanent(err))
}

type fakePublisher struct {
    mu    sync.Mutex
    topic string
    key   string
    value interface{}
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.topic, f.key, f.value = topic, string(key), value
    return nil
}

func TestKafkaSink(t *testing.T) {
    pub := &fakePublisher{}
    require.NoError(t, NewKafkaSink(pub, "signals").Send(context.Background(), buyMessage(true)))
    assert.Equal(t, "signals", pub.topic)
    assert.Equal(t, "BTCUSDT|15m|binance", pub.key)
    assert.IsType(t, models.Message{}, pub.value)
}

type scriptedSink struct {
    name  string
    calls int32
    errs  []error
}

func (s *scriptedSink) Name() string { return s.name }

func (s *scriptedSink) Send(context.Context, models.Message) error {
    n := int(atomic.AddInt32(&s.calls, 1)) - 1
    if n < len(s.errs) {
        return s.errs[n]
    }
    return nil
}

func channelOf(sinks ...service.Sink) *Channel {
    return NewChannel(sinks, ChannelConfig{Retries: 3, RetryInitial: time.Millisecond, RetryMax: 2 * time.Millisecond, Timeout: time.Second}, metrics.Nop{}, nil)
}

func TestChannelRetriesTransient(t *testing.T) {
    transient := errs.Newf(errs.KindDeliveryFailed, "test", "503")
    s := &scriptedSink{name: "a", errs: []error{transient, transient}}

    require.NoError(t, channelOf(s).Deliver(context.Background(), buyMessage(false)))
    assert.EqualValues(t, 3, atomic.LoadInt32(&s.calls))
}

func TestChannelDoesNotRetryPermanent(t *testing.T) {
    s := &scriptedSink{name: "a", errs: []error{retry.Permanent(errs.Newf(errs.KindDeliveryFailed, "test", "400"))}}

    err := channelOf(s).Deliver(context.Background(), buyMessage(false))
    require.Error(t, err)
    assert.True(t, errors.Is(err, errs.ErrDeliveryFailed))
    assert.EqualValues(t, 1, atomic.LoadInt32(&s.calls))
}

func TestChannelGivesUpAfterRetries(t *testing.T) {
    fail := errs.Newf(errs.KindDeliveryFailed, "test", "500")
    s := &scriptedSink{name: "a", errs: []error{fail, fail, fail, fail, fail, fail}}

    err := channelOf(s).Deliver(context.Background(), buyMessage(false))
    assert.Equal(t, errs.KindDeliveryFailed, errs.KindOf(err))
    assert.EqualValues(t, 4, atomic.LoadInt32(&s.calls))
}

func TestChannelPartialSuccess(t *testing.T) {
    bad := &scriptedSink{name: "bad", errs: []error{retry.Permanent(errors.New("nope"))}}
    good := &scriptedSink{name: "good"}

    ch := channelOf(bad, good)
    require.NoError(t, ch.Deliver(context.Background(), buyMessage(false)))
    assert.Equal(t, []string{"bad", "good"}, ch.Sinks())
}

func TestChannelAllFailCombines(t *testing.T) {
    a := &scriptedSink{name: "a", errs: []error{retry.Permanent(errors.New("a down"))}}
    b := &scriptedSink{name: "b", errs: []error{retry.Permanent(errors.New("b down"))}}

    err := channelOf(a, b).Deliver(context.Background(), buyMessage(false))
    require.Error(t, err)
    assert.True(t, errors.Is(err, errs.ErrDeliveryFailed))
    assert.Contains(t, err.Error(), "a down")
    assert.Contains(t, err.Error(), "b down")
}

func TestChannelNoSinks(t *testing.T) {
    err := channelOf().Deliver(context.Background(), buyMessage(false))
    assert.True(t, errors.Is(err, errs.ErrDeliveryFailed))
}
