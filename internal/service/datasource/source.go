// Package datasource adapts market data providers to repository.DataSource.
package datasource

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	phttp "SignalPulse/pkg/http"
)

// DefaultRetryAfter is used when a provider throttles without a hint.
const DefaultRetryAfter = 60 * time.Second

// MaxBars is the largest window any provider serves in one call.
const MaxBars = 1000

func checkArgs(kind string, supported map[string]string, symbol, interval string, count int) (string, error) {
	op := kind + ".fetch_candles"
	if symbol == "" {
		return "", errs.Newf(errs.KindProvider, op, "symbol is required")
	}
	if count <= 0 {
		return "", errs.Newf(errs.KindProvider, op, "count must be positive, got %d", count)
	}
	if count > MaxBars {
		return "", errs.Newf(errs.KindProvider, op, "count %d exceeds %d", count, MaxBars)
	}
	native, ok := supported[interval]
	if !ok {
		return "", errs.Newf(errs.KindProvider, op, "interval %q not supported", interval)
	}
	return native, nil
}

func intervalsOf(supported map[string]string) []string {
	out := make([]string, 0, len(supported))
	for _, iv := range []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"} {
		if _, ok := supported[iv]; ok {
			out = append(out, iv)
		}
	}
	return out
}

// classify maps a transport error onto the taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *errs.Error
	if errors.As(err, &te) {
		return err
	}
	if se, ok := phttp.AsStatusError(err); ok {
		if se.Throttled() {
			wait := se.RetryAfter()
			if wait <= 0 {
				wait = DefaultRetryAfter
			}
			return errs.RateLimited(op, wait, err)
		}
		if se.Code == 404 {
			return errs.New(errs.KindDataUnavailable, op, err)
		}
	}
	return errs.New(errs.KindProvider, op, err)
}

func finish(op, symbol, interval string, bars []models.Candle, count int) (models.CandleWindow, error) {
	if len(bars) == 0 {
		return models.CandleWindow{}, errs.Newf(errs.KindDataUnavailable, op, "no bars for %s %s", symbol, interval)
	}
	w := models.NewCandleWindow(symbol, interval, bars, count)
	if !w.Increasing() {
		return models.CandleWindow{}, errs.Newf(errs.KindProvider, op, "bars for %s are not ordered", symbol)
	}
	return w, nil
}

func parseNum(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	case nil:
		return 0, fmt.Errorf("null number")
	default:
		return 0, fmt.Errorf("unexpected number type %T", v)
	}
}
