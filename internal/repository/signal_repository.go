package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/repository"
	pkgch "SignalPulse/pkg/clickhouse"
)

// CHSignalStore keeps run records and their signals in ClickHouse.
type CHSignalStore struct {
	db    *sql.DB
	table string
}

// NewCHSignalStore creates a store writing to table.
func NewCHSignalStore(ch *pkgch.Client, table string) (*CHSignalStore, error) {
	if !tableName.MatchString(table) {
		return nil, errs.Config("clickhouse runs table %q is not a valid identifier", table)
	}
	return &CHSignalStore{db: ch.DB(), table: table}, nil
}

var _ repository.SignalStore = (*CHSignalStore)(nil)

// Init creates the runs table when missing.
func (s *CHSignalStore) Init(ctx context.Context) error {
	q := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id            String,
            job_key       String,
            trigger       LowCardinality(String),
            started_at    DateTime64(3, 'UTC'),
            ended_at      DateTime64(3, 'UTC'),
            outcome       LowCardinality(String),
            error_kind    LowCardinality(String),
            error         String,
            direction     LowCardinality(String),
            confidence    Float64,
            price         Float64,
            model         String,
            delivered     UInt8,
            heartbeat     UInt8,
            retry_after_s Float64,
            signal        String
        ) ENGINE = MergeTree
        ORDER BY (job_key, started_at)
    `, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *CHSignalStore) SaveRun(ctx context.Context, rec models.JobRunRecord) error {
	var (
		direction, model, signal string
		confidence, price        float64
	)
	if rec.Signal != nil {
		direction = string(rec.Signal.Direction)
		confidence = rec.Signal.Confidence
		price = rec.Signal.Price
		model = rec.Signal.Model
		b, err := json.Marshal(rec.Signal)
		if err != nil {
			return fmt.Errorf("encode signal: %w", err)
		}
		signal = string(b)
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, job_key, trigger, started_at, ended_at, outcome, error_kind, error,
        direction, confidence, price, model, delivered, heartbeat, retry_after_s, signal)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.JobKey,
		string(rec.Trigger),
		rec.StartedAt.UTC(),
		rec.EndedAt.UTC(),
		string(rec.Outcome),
		rec.ErrorKind,
		rec.Error,
		direction,
		confidence,
		price,
		model,
		boolToUint8(rec.Delivered),
		boolToUint8(rec.Heartbeat),
		rec.RetryAfterS,
		signal,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit records of jobKey, newest first.
func (s *CHSignalStore) RecentRuns(ctx context.Context, jobKey string, limit int) ([]models.JobRunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := fmt.Sprintf(`SELECT id, job_key, trigger, started_at, ended_at, outcome, error_kind, error,
        delivered, heartbeat, retry_after_s, signal
        FROM %s WHERE job_key = ? ORDER BY started_at DESC LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, jobKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []models.JobRunRecord
	for rows.Next() {
		var (
			rec                  models.JobRunRecord
			trigger, outcome     string
			delivered, heartbeat uint8
			signal               string
			started, ended       time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.JobKey, &trigger, &started, &ended, &outcome, &rec.ErrorKind, &rec.Error,
			&delivered, &heartbeat, &rec.RetryAfterS, &signal); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Trigger = models.Trigger(trigger)
		rec.Outcome = models.Outcome(outcome)
		rec.StartedAt, rec.EndedAt = started.UTC(), ended.UTC()
		rec.Delivered, rec.Heartbeat = delivered == 1, heartbeat == 1
		if signal != "" {
			var sig models.Signal
			if err := json.Unmarshal([]byte(signal), &sig); err != nil {
				return nil, fmt.Errorf("decode signal of run %s: %w", rec.ID, err)
			}
			rec.Signal = &sig
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *CHSignalStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHSignalStore) Close() error {
	return nil // pool is owned by pkg/clickhouse
}

// CandleTableDDL is the schema CHCandleSource expects.
func CandleTableDDL(table string) string {
	return fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            symbol   LowCardinality(String),
            interval LowCardinality(String),
            bucket   DateTime64(3, 'UTC'),
            open     Float64,
            high     Float64,
            low      Float64,
            close    Float64,
            volume   Float64
        ) ENGINE = ReplacingMergeTree
        ORDER BY (symbol, interval, bucket)
    `, table)
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
