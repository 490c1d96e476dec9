package datasource

import (
	"context"
	"strconv"
	"strings"
	"time"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/finnhub"
	phttp "SignalPulse/pkg/http"
	"SignalPulse/pkg/util"
)

var finnhubIntervals = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "30m": "30", "1h": "60", "1d": "D",
}

// PriceTracker supplies streamed last-trade prices.
type PriceTracker interface {
	LastPrice(symbol string) (finnhub.Quote, bool)
}

// Finnhub reads REST candles and prefers streamed prices for CurrentPrice.
type Finnhub struct {
	baseURL     string
	apiKey      string
	client      *phttp.Client
	tracker     PriceTracker
	maxPriceAge time.Duration
	now         func() time.Time
}

// NewFinnhub creates a Finnhub source. tracker may be nil.
func NewFinnhub(baseURL, apiKey string, client *phttp.Client, tracker PriceTracker, maxPriceAge time.Duration) *Finnhub {
	return &Finnhub{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		client:      client,
		tracker:     tracker,
		maxPriceAge: maxPriceAge,
		now:         time.Now,
	}
}

func (f *Finnhub) Kind() string { return "finnhub" }

func (f *Finnhub) Intervals() []string { return intervalsOf(finnhubIntervals) }

type finnhubCandles struct {
	S string    `json:"s"`
	T []int64   `json:"t"`
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`
}

func (f *Finnhub) FetchCandles(ctx context.Context, symbol, interval string, count int) (models.CandleWindow, error) {
	const op = "finnhub.fetch_candles"
	resolution, err := checkArgs(f.Kind(), finnhubIntervals, symbol, interval, count)
	if err != nil {
		return models.CandleWindow{}, err
	}
	step, _ := util.ParseInterval(interval)

	// equity sessions leave gaps, so ask for three times the span plus a weekend
	to := f.now().UTC()
	from := to.Add(-time.Duration(count)*step*3 - 72*time.Hour)

	var res finnhubCandles
	err = f.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method: phttp.MethodGet,
		URL:    f.baseURL + "/stock/candle",
		QueryParams: map[string][]string{
			"symbol":     {strings.ToUpper(symbol)},
			"resolution": {resolution},
			"from":       {strconv.FormatInt(from.Unix(), 10)},
			"to":         {strconv.FormatInt(to.Unix(), 10)},
		},
		Headers: map[string]string{"X-Finnhub-Token": f.apiKey},
	}, &res)
	if err != nil {
		return models.CandleWindow{}, classify(op, err)
	}
	if res.S == "no_data" {
		return models.CandleWindow{}, errs.Newf(errs.KindDataUnavailable, op, "no data for %s %s", symbol, interval)
	}
	if res.S != "ok" {
		return models.CandleWindow{}, errs.Newf(errs.KindProvider, op, "status %q", res.S)
	}
	n := len(res.T)
	if len(res.O) != n || len(res.H) != n || len(res.L) != n || len(res.C) != n {
		return models.CandleWindow{}, errs.Newf(errs.KindProvider, op, "ragged candle arrays")
	}

	bars := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		var v float64
		if i < len(res.V) {
			v = res.V[i]
		}
		bars = append(bars, models.Candle{
			Bucket: time.Unix(res.T[i], 0).UTC(),
			Symbol: strings.ToUpper(symbol),
			Open:   res.O[i],
			High:   res.H[i],
			Low:    res.L[i],
			Close:  res.C[i],
			Volume: v,
		})
	}
	return finish(op, symbol, interval, bars, count)
}

func (f *Finnhub) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "finnhub.current_price"
	if f.tracker != nil {
		if q, ok := f.tracker.LastPrice(symbol); ok && (f.maxPriceAge <= 0 || f.now().Sub(q.At) <= f.maxPriceAge) {
			return q.Price, nil
		}
	}

	var res struct {
		C float64 `json:"c"`
	}
	err := f.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method:      phttp.MethodGet,
		URL:         f.baseURL + "/quote",
		QueryParams: map[string][]string{"symbol": {strings.ToUpper(symbol)}},
		Headers:     map[string]string{"X-Finnhub-Token": f.apiKey},
	}, &res)
	if err != nil {
		return 0, classify(op, err)
	}
	if res.C <= 0 {
		return 0, errs.Newf(errs.KindDataUnavailable, op, "no quote for %s", symbol)
	}
	return res.C, nil
}
