package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// SQLRepository stores alert records in Postgres.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository creates the alert repository.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// SaveAlert inserts one alert record.
func (r *SQLRepository) SaveAlert(ctx context.Context, record models.AlertRecord) error {
	query := `
		INSERT INTO alert_records
		(id, fingerprint, kind, severity, sent_at, cooldown_until, delivered)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Fingerprint,
		record.Kind,
		record.Severity,
		record.SentAt,
		record.CooldownUntil,
		record.Delivered,
	); err != nil {
		return fmt.Errorf("failed to save alert record: %w", err)
	}

	return nil
}

// LoadActiveCooldowns returns records whose cooldown has not expired yet.
func (r *SQLRepository) LoadActiveCooldowns(ctx context.Context, now time.Time) ([]models.AlertRecord, error) {
	query := `
		SELECT id, fingerprint, kind, severity, sent_at, cooldown_until, delivered
		FROM alert_records
		WHERE cooldown_until > $1
	`

	var records []models.AlertRecord
	if err := r.db.SelectContext(ctx, &records, query, now); err != nil {
		return nil, fmt.Errorf("failed to load active cooldowns: %w", err)
	}

	return records, nil
}
