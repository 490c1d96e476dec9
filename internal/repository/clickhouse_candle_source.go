package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	pkgch "SignalPulse/pkg/clickhouse"
	applogger "SignalPulse/pkg/logger"
	"SignalPulse/pkg/util"
)

// KindClickHouse is the provider kind served by CHCandleSource.
const KindClickHouse = "clickhouse"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CHCandleSource reads OHLCV bars already collected into ClickHouse.
type CHCandleSource struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewCHCandleSource reads from table, which holds one row per
// (symbol, interval, bucket).
func NewCHCandleSource(ch *pkgch.Client, table string) (*CHCandleSource, error) {
	if !tableName.MatchString(table) {
		return nil, errs.Config("clickhouse candle table %q is not a valid identifier", table)
	}
	return &CHCandleSource{db: ch.DB(), table: table}, nil
}

// SetLogger injects a structured logger.
func (s *CHCandleSource) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHCandleSource) Kind() string { return KindClickHouse }

func (s *CHCandleSource) Intervals() []string { return util.SupportedIntervals() }

// FetchCandles returns the latest count bars in ascending order.
func (s *CHCandleSource) FetchCandles(ctx context.Context, symbol, interval string, count int) (models.CandleWindow, error) {
	const op = "clickhouse.fetch_candles"
	if symbol == "" || count <= 0 {
		return models.CandleWindow{}, errs.Newf(errs.KindProvider, op, "symbol and a positive count are required")
	}
	if !util.IsInterval(interval) {
		return models.CandleWindow{}, errs.Newf(errs.KindProvider, op, "interval %q not supported", interval)
	}

	start := time.Now()
	q := fmt.Sprintf(`
        SELECT bucket, open, high, low, close, volume
        FROM %s
        WHERE symbol = ? AND interval = ?
        ORDER BY bucket DESC
        LIMIT ?
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, interval, count)
	if err != nil {
		s.logError("clickhouse fetch_candles query error", symbol, interval, err)
		return models.CandleWindow{}, chErr(ctx, op, err)
	}
	defer rows.Close()

	bars := make([]models.Candle, 0, count)
	for rows.Next() {
		c := models.Candle{Symbol: symbol}
		if err := rows.Scan(&c.Bucket, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.logError("clickhouse fetch_candles scan error", symbol, interval, err)
			return models.CandleWindow{}, errs.New(errs.KindProvider, op, fmt.Errorf("scan candle: %w", err))
		}
		bars = append(bars, c)
	}
	if err := rows.Err(); err != nil {
		s.logError("clickhouse fetch_candles rows error", symbol, interval, err)
		return models.CandleWindow{}, chErr(ctx, op, err)
	}
	if len(bars) == 0 {
		return models.CandleWindow{}, errs.Newf(errs.KindDataUnavailable, op, "no bars for %s %s", symbol, interval)
	}

	if s.l != nil {
		s.l.Debug("clickhouse fetch_candles ok",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("interval", interval),
			applogger.Int("rows", len(bars)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return models.NewCandleWindow(symbol, interval, bars, count), nil
}

// CurrentPrice is the close of the newest bar of any interval.
func (s *CHCandleSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "clickhouse.current_price"
	q := fmt.Sprintf(`SELECT close FROM %s WHERE symbol = ? ORDER BY bucket DESC LIMIT 1`, s.table)
	var price float64
	if err := s.db.QueryRowContext(ctx, q, symbol).Scan(&price); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errs.Newf(errs.KindDataUnavailable, op, "no bars for %s", symbol)
		}
		return 0, chErr(ctx, op, err)
	}
	return price, nil
}

func (s *CHCandleSource) logError(msg, symbol, interval string, err error) {
	if s.l == nil {
		return
	}
	s.l.Error(msg,
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.String("interval", interval),
		applogger.Error(err),
	)
}

func chErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errs.New(errs.KindOf(ctxErr), op, err)
	}
	return errs.New(errs.KindProvider, op, err)
}
