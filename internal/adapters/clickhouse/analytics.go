package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/internal/adapters/config"
	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// Analytics mirrors committed activity events and emitted patterns into
// ClickHouse for offline analysis. Writes are batched and best-effort: a sink
// failure never blocks the detection pipeline.
type Analytics struct {
	db      *sqlx.DB
	events  *BatchWriter
	signals *BatchWriter
}

// New connects to ClickHouse and starts the batch writers.
func New(cfg *config.AnalyticsConfig) (*Analytics, error) {
	db, err := sqlx.Connect("clickhouse", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	a := &Analytics{db: db}
	a.events = NewBatchWriter(cfg.MaxBatch, cfg.FlushWait, a.flushEvents)
	a.signals = NewBatchWriter(cfg.MaxBatch, cfg.FlushWait, a.flushPatterns)

	logger.Info("clickhouse analytics sink initialized",
		zap.Int("max_batch", cfg.MaxBatch),
		zap.Duration("flush_wait", cfg.FlushWait),
	)

	return a, nil
}

// RecordEvents buffers activity events for the analytics sink.
func (a *Analytics) RecordEvents(events []models.ActivityEvent) {
	for _, ev := range events {
		a.events.Add(ev)
	}
}

// RecordPattern buffers one emitted pattern.
func (a *Analytics) RecordPattern(p models.EmergencyPattern) {
	a.signals.Add(p)
}

func (a *Analytics) flushEvents(ctx context.Context, records []interface{}) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	stmt, err := tx.Preparex(`
		INSERT INTO activity_events
		(observed_at, block_height, address, tx_id, amount_sats, balance_sats, dormancy_days, direction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		ev := record.(models.ActivityEvent)
		if _, err := stmt.ExecContext(ctx,
			ev.ObservedAt,
			ev.BlockHeight,
			ev.Address,
			ev.TxID,
			ev.AmountSats,
			ev.BalanceSats,
			ev.DormancyDaysAtEvent,
			ev.Direction,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert activity event: %w", err)
		}
	}

	return tx.Commit()
}

func (a *Analytics) flushPatterns(ctx context.Context, records []interface{}) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	stmt, err := tx.Preparex(`
		INSERT INTO emergency_patterns
		(detected_at, kind, severity, score, wallet_count, wallets, total_value_btc, window_start, window_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, record := range records {
		p := record.(models.EmergencyPattern)
		if _, err := stmt.ExecContext(ctx,
			now,
			string(p.Kind),
			string(p.Severity),
			p.Score,
			len(p.WalletAddresses),
			strings.Join(p.WalletAddresses, ","),
			models.ToFloat64(p.TotalValueBTC),
			p.WindowStart,
			p.WindowEnd,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert pattern: %w", err)
		}
	}

	return tx.Commit()
}

// Close flushes remaining buffers and closes the connection.
func (a *Analytics) Close() error {
	a.events.Close()
	a.signals.Close()
	return a.db.Close()
}
