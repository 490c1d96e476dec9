package datasource

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	phttp "SignalPulse/pkg/http"
	"SignalPulse/pkg/util"
)

var binanceIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m", "1h": "1h", "4h": "4h", "1d": "1d",
}

// Binance reads spot klines from the public REST API.
type Binance struct {
	baseURL string
	client  *phttp.Client
}

// NewBinance creates a Binance source.
func NewBinance(baseURL string, client *phttp.Client) *Binance {
	return &Binance{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (b *Binance) Kind() string { return "binance" }

func (b *Binance) Intervals() []string { return intervalsOf(binanceIntervals) }

func (b *Binance) FetchCandles(ctx context.Context, symbol, interval string, count int) (models.CandleWindow, error) {
	const op = "binance.fetch_candles"
	native, err := checkArgs(b.Kind(), binanceIntervals, symbol, interval, count)
	if err != nil {
		return models.CandleWindow{}, err
	}

	var rows [][]interface{}
	err = b.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method: phttp.MethodGet,
		URL:    b.baseURL + "/api/v3/klines",
		QueryParams: map[string][]string{
			"symbol":   {strings.ToUpper(symbol)},
			"interval": {native},
			"limit":    {strconv.Itoa(count)},
		},
	}, &rows)
	if err != nil {
		return models.CandleWindow{}, classify(op, err)
	}

	bars := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := binanceCandle(symbol, row)
		if err != nil {
			return models.CandleWindow{}, errs.Newf(errs.KindProvider, op, "row %d: %w", i, err)
		}
		bars = append(bars, c)
	}
	return finish(op, symbol, interval, bars, count)
}

func binanceCandle(symbol string, row []interface{}) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("short kline (%d fields)", len(row))
	}
	openMs, err := parseNum(row[0])
	if err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}
	var vals [5]float64
	for i := range vals {
		if vals[i], err = parseNum(row[i+1]); err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return models.Candle{
		Bucket: util.FromUnixMilli(int64(openMs)),
		Symbol: strings.ToUpper(symbol),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

func (b *Binance) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "binance.current_price"
	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	err := b.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method:      phttp.MethodGet,
		URL:         b.baseURL + "/api/v3/ticker/price",
		QueryParams: map[string][]string{"symbol": {strings.ToUpper(symbol)}},
	}, &res)
	if err != nil {
		return 0, classify(op, err)
	}
	p, err := strconv.ParseFloat(res.Price, 64)
	if err != nil || p <= 0 {
		return 0, errs.Newf(errs.KindDataUnavailable, op, "no price for %s", symbol)
	}
	return p, nil
}
