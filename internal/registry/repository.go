package registry

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// SQLRepository loads and updates watched addresses in Postgres.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository creates the registry repository.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// LoadWatchedAddresses returns every active watched address.
func (r *SQLRepository) LoadWatchedAddresses(ctx context.Context) ([]models.WatchedAddress, error) {
	query := `
		SELECT address, vulnerability_type, balance_sats, last_activity,
		       first_seen, tx_count, risk_score, COALESCE(public_key, '') AS public_key, satoshi_era
		FROM watched_addresses
		WHERE is_active = TRUE
	`

	var addrs []models.WatchedAddress
	if err := r.db.SelectContext(ctx, &addrs, query); err != nil {
		return nil, fmt.Errorf("failed to load watched addresses: %w", err)
	}

	return addrs, nil
}

// UpdateAddressActivity persists post-event mutations of one entry.
func (r *SQLRepository) UpdateAddressActivity(ctx context.Context, addr *models.WatchedAddress) error {
	query := `
		UPDATE watched_addresses
		SET last_activity = $2,
		    balance_sats = $3,
		    tx_count = $4,
		    risk_score = $5,
		    updated_at = NOW()
		WHERE address = $1
	`

	if _, err := r.db.ExecContext(ctx, query,
		addr.Address,
		addr.LastActivity,
		addr.BalanceSats,
		addr.TxCount,
		addr.RiskScore,
	); err != nil {
		return fmt.Errorf("failed to update watched address: %w", err)
	}

	return nil
}
