package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"SignalLab/internal/domain/models"
	drepo "SignalLab/internal/domain/repository"
	pkgch "SignalLab/pkg/clickhouse"
)

const signalHistoryTable = "signal_history"

// ClickHouseSignalHistory keeps every generated signal for analytical
// queries across models. Rows are deduplicated by signal id on merge.
type ClickHouseSignalHistory struct {
	conn  driver.Conn
	table string
}

func NewClickHouseSignalHistory(ch *pkgch.Client) drepo.SignalHistory {
	return &ClickHouseSignalHistory{conn: ch.Conn(), table: signalHistoryTable}
}

func (s *ClickHouseSignalHistory) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id String,
            model_id String,
            symbol LowCardinality(String),
            ts DateTime64(3, 'UTC'),
            direction LowCardinality(String),
            confidence Float64,
            value Float64,
            current_price Float64,
            predicted_price Float64
        ) ENGINE = ReplacingMergeTree
        PARTITION BY toYYYYMM(ts)
        ORDER BY (symbol, ts, id)`, s.table)
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create signal history table: %w", err)
	}
	return nil
}

func (s *ClickHouseSignalHistory) Store(ctx context.Context, sig *models.Signal) error {
	return s.StoreBatch(ctx, []*models.Signal{sig})
}

// StoreBatch sends all rows in one native batch. Signals without an id or
// symbol are skipped.
func (s *ClickHouseSignalHistory) StoreBatch(ctx context.Context, signals []*models.Signal) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table+
		" (id, model_id, symbol, ts, direction, confidence, value, current_price, predicted_price)")
	if err != nil {
		return fmt.Errorf("prepare signal history batch: %w", err)
	}
	rows := 0
	for _, sig := range signals {
		if sig == nil || sig.ID == "" || sig.Symbol == "" {
			continue
		}
		if err := batch.Append(sig.ID, sig.ModelID, sig.Symbol, sig.Timestamp.UTC(), string(sig.Direction),
			sig.Confidence, sig.Value, sig.CurrentPrice, sig.PredictedPrice); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append signal %s: %w", sig.ID, err)
		}
		rows++
	}
	if rows == 0 {
		return batch.Abort()
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("insert signal history: %w", err)
	}
	return nil
}

// Query returns signals for symbol in [from, to], newest first.
func (s *ClickHouseSignalHistory) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Signal, error) {
	q := fmt.Sprintf(`
        SELECT id, model_id, symbol, ts, direction, confidence, value, current_price, predicted_price
        FROM %s FINAL
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?`, s.table)
	rows, err := s.conn.Query(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query signal history: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Signal, 0)
	for rows.Next() {
		var sig models.Signal
		var dir string
		if err := rows.Scan(&sig.ID, &sig.ModelID, &sig.Symbol, &sig.Timestamp, &dir,
			&sig.Confidence, &sig.Value, &sig.CurrentPrice, &sig.PredictedPrice); err != nil {
			return nil, fmt.Errorf("scan signal history: %w", err)
		}
		sig.Direction = models.Direction(dir)
		out = append(out, &sig)
	}
	return out, rows.Err()
}

func (s *ClickHouseSignalHistory) Health(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseSignalHistory) Close() error {
	return nil
}
