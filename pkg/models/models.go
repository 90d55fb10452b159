package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SatoshisPerBTC is the satoshi denomination of one bitcoin.
const SatoshisPerBTC = 100_000_000

// VulnerabilityType classifies why an address is quantum-vulnerable.
type VulnerabilityType string

const (
	// VulnP2PK marks pay-to-public-key outputs where the key is exposed on chain.
	VulnP2PK VulnerabilityType = "P2PK"
	// VulnReusedP2PKH marks P2PKH addresses that revealed their key by spending.
	VulnReusedP2PKH VulnerabilityType = "REUSED_P2PKH"
	// VulnDormant marks long-inactive addresses tracked without a known key exposure.
	VulnDormant VulnerabilityType = "DORMANT"
)

// Severity levels for emergency patterns and alerts.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityForScore maps a composite 0-100 score to a severity level.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// PatternKind identifies a detection signal.
type PatternKind string

const (
	PatternDormantSurge         PatternKind = "dormant_wallet_surge"
	PatternCoordinatedMovement  PatternKind = "coordinated_movement"
	PatternValueConcentration   PatternKind = "value_concentration"
	PatternStatisticalAnomaly   PatternKind = "statistical_anomaly"
)

// WatchedAddress is a registry entry for one surveilled wallet.
type WatchedAddress struct {
	Address           string            `json:"address" db:"address"`
	VulnerabilityType VulnerabilityType `json:"vulnerability_type" db:"vulnerability_type"`
	BalanceSats       int64             `json:"balance_sats" db:"balance_sats"`
	LastActivity      time.Time         `json:"last_activity" db:"last_activity"`
	FirstSeen         time.Time         `json:"first_seen" db:"first_seen"`
	TxCount           int               `json:"tx_count" db:"tx_count"`
	RiskScore         float64           `json:"risk_score" db:"risk_score"`
	PublicKey         string            `json:"public_key,omitempty" db:"public_key"`
	SatoshiEra        bool              `json:"satoshi_era" db:"satoshi_era"`
}

// DormancyDays returns full days since the last recorded activity.
func (w *WatchedAddress) DormancyDays(now time.Time) int {
	if w.LastActivity.IsZero() {
		return 0
	}
	d := int(now.Sub(w.LastActivity).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// BalanceBTC returns the balance as a BTC decimal.
func (w *WatchedAddress) BalanceBTC() decimal.Decimal {
	return SatsToBTC(w.BalanceSats)
}

// TxAddr is one side of a transaction edge inside a block.
type TxAddr struct {
	Address   string `json:"address"`
	ValueSats int64  `json:"value_sats"`
}

// BlockTx is a transaction as seen during block scanning.
type BlockTx struct {
	TxID    string   `json:"txid"`
	Inputs  []TxAddr `json:"inputs"`
	Outputs []TxAddr `json:"outputs"`
}

// Block is the provider-level view of one block.
type Block struct {
	Height       int64     `json:"height"`
	Hash         string    `json:"hash"`
	PrevHash     string    `json:"prev_hash"`
	Timestamp    time.Time `json:"timestamp"`
	Transactions []BlockTx `json:"transactions"`
}

// AddressInfo is the provider-level view of one address.
type AddressInfo struct {
	Address      string    `json:"address"`
	BalanceSats  int64     `json:"balance_sats"`
	TxCount      int       `json:"tx_count"`
	LastActivity time.Time `json:"last_activity"`
}

// ActivityEvent records a watched address touching the chain. Immutable once
// committed; the log is ordered by block height, then discovery order.
type ActivityEvent struct {
	Address             string    `json:"address" db:"address"`
	TxID                string    `json:"tx_id" db:"tx_id"`
	BlockHeight         int64     `json:"block_height" db:"block_height"`
	AmountSats          int64     `json:"amount_sats" db:"amount_sats"`
	BalanceSats         int64     `json:"balance_sats" db:"balance_sats"`
	ObservedAt          time.Time `json:"observed_at" db:"observed_at"`
	DormancyDaysAtEvent int       `json:"dormancy_days_at_event" db:"dormancy_days_at_event"`
	Direction           string    `json:"direction" db:"direction"` // "in" or "out"
}

// AmountBTC returns the moved amount as a BTC decimal.
func (e *ActivityEvent) AmountBTC() decimal.Decimal {
	return SatsToBTC(e.AmountSats)
}

// EmergencyPattern is a detector finding over a batch of activity events.
type EmergencyPattern struct {
	Kind            PatternKind     `json:"kind"`
	Severity        Severity        `json:"severity"`
	Score           float64         `json:"score"`
	WalletAddresses []string        `json:"wallet_addresses"`
	TotalValueBTC   decimal.Decimal `json:"total_value_btc"`
	WindowStart     time.Time       `json:"window_start"`
	WindowEnd       time.Time       `json:"window_end"`
	Details         string          `json:"details,omitempty"`
}

// AlertRecord governs suppression of duplicate patterns.
type AlertRecord struct {
	ID            string    `json:"id" db:"id"`
	Fingerprint   string    `json:"fingerprint" db:"fingerprint"`
	Kind          string    `json:"kind" db:"kind"`
	Severity      string    `json:"severity" db:"severity"`
	SentAt        time.Time `json:"sent_at" db:"sent_at"`
	CooldownUntil time.Time `json:"cooldown_until" db:"cooldown_until"`
	Delivered     bool      `json:"delivered" db:"delivered"`
}

// ChainState is the monitor's committed position on the chain.
type ChainState struct {
	LastSeenHeight int64  `db:"last_seen_height"`
	TipHash        string `db:"tip_hash"`
}

// BlockTip is a recently committed (height, hash) pair kept for reorg checks.
type BlockTip struct {
	Height int64  `db:"height"`
	Hash   string `db:"hash"`
}
