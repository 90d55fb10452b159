package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/internal/adapters/config"
	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// Notifier delivers one alert to an external channel.
type Notifier interface {
	Send(ctx context.Context, pattern models.EmergencyPattern) error
}

// Repository persists alert records and restores live cooldowns on restart.
type Repository interface {
	SaveAlert(ctx context.Context, record models.AlertRecord) error
	LoadActiveCooldowns(ctx context.Context, now time.Time) ([]models.AlertRecord, error)
}

// PatternRecorder mirrors every evaluated pattern into an analytics sink.
type PatternRecorder interface {
	RecordPattern(p models.EmergencyPattern)
}

// Manager deduplicates detector findings and routes the survivors to the
// notifier. Identical patterns inside one fingerprint bucket share a
// fingerprint, and a fingerprint stays silent for the cooldown period after
// an alert.
type Manager struct {
	cfg      config.AlertsConfig
	notifier Notifier
	repo     Repository
	recorder PatternRecorder

	mu        sync.Mutex
	cooldowns map[string]time.Time

	now func() time.Time
}

// NewManager creates the alert manager. recorder may be nil.
func NewManager(cfg config.AlertsConfig, notifier Notifier, repo Repository, recorder PatternRecorder) *Manager {
	return &Manager{
		cfg:       cfg,
		notifier:  notifier,
		repo:      repo,
		recorder:  recorder,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Restore seeds the cooldown table from alert records that are still inside
// their cooldown, so a restart does not re-fire recent alerts.
func (m *Manager) Restore(ctx context.Context) error {
	records, err := m.repo.LoadActiveCooldowns(ctx, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, r := range records {
		m.cooldowns[r.Fingerprint] = r.CooldownUntil
	}
	m.mu.Unlock()

	logger.Info("alert cooldowns restored", zap.Int("active", len(records)))
	return nil
}

// Handle processes one detector finding. Suppressed duplicates are logged at
// debug; everything else produces exactly one alert record.
func (m *Manager) Handle(ctx context.Context, pattern models.EmergencyPattern) {
	if m.recorder != nil {
		m.recorder.RecordPattern(pattern)
	}

	fp := m.Fingerprint(pattern)
	now := m.now()

	m.mu.Lock()
	if until, ok := m.cooldowns[fp]; ok && now.Before(until) {
		m.mu.Unlock()
		logger.Debug("alert suppressed by cooldown",
			zap.String("fingerprint", fp),
			zap.String("kind", string(pattern.Kind)),
			zap.Time("until", until),
		)
		return
	}
	until := now.Add(m.cfg.Cooldown)
	m.cooldowns[fp] = until
	m.pruneLocked(now)
	m.mu.Unlock()

	record := models.AlertRecord{
		ID:            uuid.NewString(),
		Fingerprint:   fp,
		Kind:          string(pattern.Kind),
		Severity:      string(pattern.Severity),
		SentAt:        now,
		CooldownUntil: until,
	}

	if err := m.notifier.Send(ctx, pattern); err != nil {
		logger.Error("failed to deliver alert",
			zap.String("kind", string(pattern.Kind)),
			zap.Error(err),
		)
	} else {
		record.Delivered = true
	}

	// The record is kept even when delivery failed: the cooldown still
	// applies and the miss stays auditable.
	if err := m.repo.SaveAlert(ctx, record); err != nil {
		logger.Error("failed to persist alert record",
			zap.String("fingerprint", fp),
			zap.Error(err),
		)
	}

	logger.Info("alert handled",
		zap.String("kind", string(pattern.Kind)),
		zap.String("severity", string(pattern.Severity)),
		zap.Float64("score", pattern.Score),
		zap.Int("wallets", len(pattern.WalletAddresses)),
		zap.Bool("delivered", record.Delivered),
	)
}

// Fingerprint derives the dedup key: pattern kind, the sorted wallet set and
// the time bucket the pattern's window starts in.
func (m *Manager) Fingerprint(pattern models.EmergencyPattern) string {
	addrs := append([]string(nil), pattern.WalletAddresses...)
	sort.Strings(addrs)

	bucket := m.cfg.FingerprintBucket
	if bucket <= 0 {
		bucket = m.cfg.Cooldown
	}
	bucketIndex := pattern.WindowStart.UnixNano() / int64(bucket)

	h := sha256.New()
	h.Write([]byte(pattern.Kind))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(addrs, ",")))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(bucketIndex, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// pruneLocked drops expired cooldown entries. Caller holds mu.
func (m *Manager) pruneLocked(now time.Time) {
	for fp, until := range m.cooldowns {
		if now.After(until) {
			delete(m.cooldowns, fp)
		}
	}
}

// LogNotifier is the fallback channel when no Telegram credentials are
// configured.
type LogNotifier struct{}

// Send logs the alert instead of delivering it.
func (LogNotifier) Send(ctx context.Context, pattern models.EmergencyPattern) error {
	logger.Warn("EMERGENCY PATTERN",
		zap.String("kind", string(pattern.Kind)),
		zap.String("severity", string(pattern.Severity)),
		zap.Float64("score", pattern.Score),
		zap.Strings("wallets", pattern.WalletAddresses),
		zap.String("total_btc", pattern.TotalValueBTC.StringFixed(4)),
		zap.String("details", pattern.Details),
	)
	return nil
}
