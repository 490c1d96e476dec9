package datasource

import (
	"context"
	"net/url"
	"strings"
	"time"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	phttp "SignalPulse/pkg/http"
)

var yahooIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m", "1h": "60m", "1d": "1d",
}

// yahooRanges keeps each request within Yahoo's lookback limits per interval.
var yahooRanges = map[string]string{
	"1m": "5d", "5m": "1mo", "15m": "1mo", "30m": "1mo", "1h": "3mo", "1d": "5y",
}

// Yahoo reads the v8 chart API.
type Yahoo struct {
	baseURL string
	client  *phttp.Client
}

// NewYahoo creates a Yahoo Finance source.
func NewYahoo(baseURL string, client *phttp.Client) *Yahoo {
	return &Yahoo{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (y *Yahoo) Kind() string { return "yahoo" }

func (y *Yahoo) Intervals() []string { return intervalsOf(yahooIntervals) }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) chart(ctx context.Context, op, symbol, interval, rng string) (*yahooChart, error) {
	var res yahooChart
	err := y.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method: phttp.MethodGet,
		URL:    y.baseURL + "/v8/finance/chart/" + url.PathEscape(strings.ToUpper(symbol)),
		QueryParams: map[string][]string{
			"interval": {interval},
			"range":    {rng},
		},
	}, &res)
	if err != nil {
		return nil, classify(op, err)
	}
	if res.Chart.Error != nil {
		return nil, errs.Newf(errs.KindDataUnavailable, op, "%s: %s", res.Chart.Error.Code, res.Chart.Error.Description)
	}
	if len(res.Chart.Result) == 0 {
		return nil, errs.Newf(errs.KindDataUnavailable, op, "empty chart for %s", symbol)
	}
	return &res, nil
}

func (y *Yahoo) FetchCandles(ctx context.Context, symbol, interval string, count int) (models.CandleWindow, error) {
	const op = "yahoo.fetch_candles"
	native, err := checkArgs(y.Kind(), yahooIntervals, symbol, interval, count)
	if err != nil {
		return models.CandleWindow{}, err
	}

	res, err := y.chart(ctx, op, symbol, native, yahooRanges[interval])
	if err != nil {
		return models.CandleWindow{}, err
	}

	r := res.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return models.CandleWindow{}, errs.Newf(errs.KindDataUnavailable, op, "no quotes for %s", symbol)
	}
	q := r.Indicators.Quote[0]

	bars := make([]models.Candle, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			continue
		}
		var v float64
		if vp := at(q.Volume, i); vp != nil {
			v = *vp
		}
		bars = append(bars, models.Candle{
			Bucket: time.Unix(ts, 0).UTC(),
			Symbol: strings.ToUpper(symbol),
			Open:   *o,
			High:   *h,
			Low:    *l,
			Close:  *c,
			Volume: v,
		})
	}
	return finish(op, symbol, interval, bars, count)
}

func at(s []*float64, i int) *float64 {
	if i < len(s) {
		return s[i]
	}
	return nil
}

func (y *Yahoo) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "yahoo.current_price"
	res, err := y.chart(ctx, op, symbol, "1m", "1d")
	if err != nil {
		return 0, err
	}
	p := res.Chart.Result[0].Meta.RegularMarketPrice
	if p <= 0 {
		return 0, errs.Newf(errs.KindDataUnavailable, op, "no price for %s", symbol)
	}
	return p, nil
}
