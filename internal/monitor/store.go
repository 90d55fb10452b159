package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// Store is the persistence boundary for chain position and the activity
// event log. CommitBlock must be atomic: a committed height always carries
// its events and vice versa.
type Store interface {
	LoadChainState(ctx context.Context) (*models.ChainState, error)
	RecentTips(ctx context.Context, limit int) ([]models.BlockTip, error)
	CommitBlock(ctx context.Context, tip models.BlockTip, events []models.ActivityEvent) error
}

// tipsToKeep bounds the block_tips table; enough for any configured reorg
// lookback.
const tipsToKeep = 64

// SQLStore implements Store on Postgres.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates the monitor store.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// LoadChainState returns the committed position, or nil on a fresh database.
func (s *SQLStore) LoadChainState(ctx context.Context) (*models.ChainState, error) {
	var state models.ChainState
	err := s.db.GetContext(ctx, &state,
		`SELECT last_seen_height, tip_hash FROM chain_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chain state: %w", err)
	}
	return &state, nil
}

// RecentTips returns committed (height, hash) pairs, newest first.
func (s *SQLStore) RecentTips(ctx context.Context, limit int) ([]models.BlockTip, error) {
	var tips []models.BlockTip
	err := s.db.SelectContext(ctx, &tips,
		`SELECT height, hash FROM block_tips ORDER BY height DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load block tips: %w", err)
	}
	return tips, nil
}

// CommitBlock persists the new position together with that block's events in
// one transaction. Replaying an already committed block is a no-op for its
// events: the (block_height, address, tx_id) triple is unique.
func (s *SQLStore) CommitBlock(ctx context.Context, tip models.BlockTip, events []models.ActivityEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start commit transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activity_events
			(address, tx_id, block_height, amount_sats, balance_sats, observed_at, dormancy_days_at_event, direction)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (block_height, address, tx_id) DO NOTHING
		`, ev.Address, ev.TxID, ev.BlockHeight, ev.AmountSats, ev.BalanceSats,
			ev.ObservedAt, ev.DormancyDaysAtEvent, ev.Direction,
		); err != nil {
			return fmt.Errorf("failed to append activity event: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chain_state (id, last_seen_height, tip_hash, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET last_seen_height = EXCLUDED.last_seen_height,
		    tip_hash = EXCLUDED.tip_hash,
		    updated_at = NOW()
	`, tip.Height, tip.Hash); err != nil {
		return fmt.Errorf("failed to save chain state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO block_tips (height, hash)
		VALUES ($1, $2)
		ON CONFLICT (height) DO UPDATE SET hash = EXCLUDED.hash
	`, tip.Height, tip.Hash); err != nil {
		return fmt.Errorf("failed to save block tip: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM block_tips WHERE height < $1`, tip.Height-tipsToKeep,
	); err != nil {
		return fmt.Errorf("failed to prune block tips: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block: %w", err)
	}
	return nil
}
