package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/finnhub"
	"SignalPulse/internal/service/ratelimit"
	phttp "SignalPulse/pkg/http"
	"SignalPulse/pkg/logger"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func klines(n int, start int64) string {
	out := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		ts := start + int64(i)*60_000
		out += fmt.Sprintf(`[%d,"%d.0","%d.5","%d.0","%d.2","10.0",%d,"0",1,"0","0","0"]`, ts, 100+i, 101+i, 99+i, 100+i, ts+59_999)
	}
	return out + "]"
}

func TestBinanceFetchCandles(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		fmt.Fprint(w, klines(3, 1_700_000_000_000))
	})

	b := NewBinance(srv.URL, phttp.NewClient())
	w, err := b.FetchCandles(context.Background(), "btcusdt", "1m", 3)
	require.NoError(t, err)
	require.Equal(t, 3, w.Len())
	assert.True(t, w.Increasing())
	last, _ := w.Last()
	assert.Equal(t, 102.2, last.Close)
	assert.Equal(t, "BTCUSDT", last.Symbol)
}

func TestBinanceRateLimited(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := NewBinance(srv.URL, phttp.NewClient()).FetchCandles(context.Background(), "BTCUSDT", "15m", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrRateLimited)
	d, ok := errs.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, d)
}

func TestBinanceBanWithoutHintUsesDefault(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	_, err := NewBinance(srv.URL, phttp.NewClient()).CurrentPrice(context.Background(), "BTCUSDT")
	d, ok := errs.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, DefaultRetryAfter, d)
}

func TestBinanceEmptyIsDataUnavailable(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "[]")
	})

	_, err := NewBinance(srv.URL, phttp.NewClient()).FetchCandles(context.Background(), "BTCUSDT", "15m", 10)
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)
}

func TestBinanceServerErrorIsProviderError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := NewBinance(srv.URL, phttp.NewClient()).FetchCandles(context.Background(), "BTCUSDT", "15m", 10)
	assert.ErrorIs(t, err, errs.ErrProvider)
}

func TestArgumentChecks(t *testing.T) {
	b := NewBinance("http://127.0.0.1:0", phttp.NewClient())
	_, err := b.FetchCandles(context.Background(), "BTCUSDT", "15m", 0)
	assert.ErrorIs(t, err, errs.ErrProvider)

	_, err = b.FetchCandles(context.Background(), "BTCUSDT", "2h", 10)
	assert.ErrorIs(t, err, errs.ErrProvider)

	y := NewYahoo("http://127.0.0.1:0", phttp.NewClient())
	assert.NotContains(t, y.Intervals(), "4h")
	_, err = y.FetchCandles(context.Background(), "AAPL", "4h", 10)
	assert.ErrorIs(t, err, errs.ErrProvider)
}

func TestBinanceCurrentPrice(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		fmt.Fprint(w, `{"symbol":"ETHUSDT","price":"3150.25"}`)
	})

	p, err := NewBinance(srv.URL, phttp.NewClient()).CurrentPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3150.25, p)
}

func TestYahooSkipsNullBars(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "60m", r.URL.Query().Get("interval"))
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"symbol":"AAPL","regularMarketPrice":190.1},
			"timestamp":[1700000000,1700003600,1700007200],
			"indicators":{"quote":[{"open":[1,null,3],"high":[2,null,4],"low":[0.5,null,2.5],"close":[1.5,null,3.5],"volume":[100,null,300]}]}}],"error":null}}`)
	})

	w, err := NewYahoo(srv.URL, phttp.NewClient()).FetchCandles(context.Background(), "aapl", "1h", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, []float64{1.5, 3.5}, w.Closes())
}

func TestYahooNotFound(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
	})

	_, err := NewYahoo(srv.URL, phttp.NewClient()).FetchCandles(context.Background(), "NOPE", "1d", 10)
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)
}

type stubTracker struct{ q finnhub.Quote }

func (s stubTracker) LastPrice(string) (finnhub.Quote, bool) { return s.q, s.q.Price > 0 }

func TestFinnhubPrefersFreshStreamPrice(t *testing.T) {
	var restCalls int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&restCalls, 1)
		assert.Equal(t, "key", r.Header.Get("X-Finnhub-Token"))
		fmt.Fprint(w, `{"c":101.5}`)
	})

	now := time.Now()
	f := NewFinnhub(srv.URL, "key", phttp.NewClient(), stubTracker{q: finnhub.Quote{Price: 102, At: now}}, time.Minute)
	p, err := f.CurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 102.0, p)
	assert.Equal(t, int32(0), atomic.LoadInt32(&restCalls))

	stale := NewFinnhub(srv.URL, "key", phttp.NewClient(), stubTracker{q: finnhub.Quote{Price: 102, At: now.Add(-time.Hour)}}, time.Minute)
	p, err = stale.CurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 101.5, p)
}

func TestFinnhubNoData(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "15", r.URL.Query().Get("resolution"))
		fmt.Fprint(w, `{"s":"no_data"}`)
	})

	_, err := NewFinnhub(srv.URL, "key", phttp.NewClient(), nil, 0).FetchCandles(context.Background(), "AAPL", "15m", 50)
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)
}

type flakySource struct {
	calls int
	err   error
}

func (f *flakySource) Kind() string        { return "flaky" }
func (f *flakySource) Intervals() []string { return []string{"15m"} }
func (f *flakySource) FetchCandles(context.Context, string, string, int) (models.CandleWindow, error) {
	f.calls++
	return models.CandleWindow{}, f.err
}
func (f *flakySource) CurrentPrice(context.Context, string) (float64, error) {
	f.calls++
	return 0, f.err
}

func TestGuardOpensAfterFailures(t *testing.T) {
	src := &flakySource{err: errs.New(errs.KindProvider, "flaky", errors.New("502"))}
	g := NewGuard(src, nil, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, logger.Nop())

	for i := 0; i < 2; i++ {
		_, err := g.FetchCandles(context.Background(), "X", "15m", 10)
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.FetchCandles(context.Background(), "X", "15m", 10)
	assert.ErrorIs(t, err, errs.ErrProvider)
	assert.Equal(t, 2, src.calls)
}

func TestGuardIgnoresThrottling(t *testing.T) {
	src := &flakySource{err: errs.RateLimited("flaky", time.Minute, errors.New("429"))}
	g := NewGuard(src, nil, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute}, logger.Nop())

	for i := 0; i < 3; i++ {
		_, err := g.CurrentPrice(context.Background(), "X")
		assert.ErrorIs(t, err, errs.ErrRateLimited)
	}
	assert.Equal(t, "closed", g.State())
	assert.Equal(t, 3, src.calls)
}

func TestGuardLimiterHonoursContext(t *testing.T) {
	src := &flakySource{}
	lim := ratelimit.New(ratelimit.Limit{RPS: 0.001, Burst: 1})
	g := NewGuard(src, lim, BreakerConfig{}, logger.Nop())

	_, err := g.CurrentPrice(context.Background(), "X")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.CurrentPrice(ctx, "X")
	require.Error(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewBinance("http://x", phttp.NewClient()), NewYahoo("http://y", phttp.NewClient()))
	_, err := r.Get("binance")
	require.NoError(t, err)

	_, err = r.Get("kraken")
	assert.ErrorIs(t, err, errs.ErrConfig)

	assert.True(t, r.Supports("binance", "4h"))
	assert.False(t, r.Supports("yahoo", "4h"))
	assert.Equal(t, []string{"binance", "yahoo"}, r.Kinds())
}
