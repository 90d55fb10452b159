package registry

import (
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// RiskScore computes the 0-100 prioritization metric: balance factor (up to
// 40), dormancy factor (up to 30), vulnerability-type factor (up to 30). Used
// for tiering direct checks only, never for detection.
func RiskScore(balanceSats int64, dormancyDays int, vuln models.VulnerabilityType) float64 {
	score := 0.0

	if balanceSats > 0 {
		btc := float64(balanceSats) / models.SatoshisPerBTC
		switch {
		case btc >= 1000:
			score += 40
		case btc >= 100:
			score += 30
		case btc >= 10:
			score += 20
		default:
			score += 10
		}
	}

	switch {
	case dormancyDays > 3650: // 10+ years
		score += 30
	case dormancyDays > 1825: // 5+ years
		score += 25
	case dormancyDays > 730: // 2+ years
		score += 20
	case dormancyDays > 365: // 1+ year
		score += 15
	default:
		score += 5
	}

	switch vuln {
	case models.VulnP2PK:
		score += 30 // key exposed directly on chain
	case models.VulnReusedP2PKH:
		score += 20
	case models.VulnDormant:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Tier describes a monitoring tier driving how often addresses get direct
// checks.
type Tier struct {
	Name          string
	MinScore      float64
	CheckInterval int // minutes
}

var tiers = []Tier{
	{Name: "critical", MinScore: 95, CheckInterval: 60},
	{Name: "high", MinScore: 80, CheckInterval: 240},
	{Name: "medium", MinScore: 60, CheckInterval: 1440},
	{Name: "low", MinScore: 0, CheckInterval: 0}, // block scanning only
}

// TierForScore returns the monitoring tier for a risk score.
func TierForScore(score float64) Tier {
	for _, t := range tiers {
		if score >= t.MinScore {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// IsSatoshiEra flags probable Satoshi-era coinbase wallets: P2PK, dormant
// since before 2012, holding a round 50 or 25 BTC reward.
func IsSatoshiEra(a *models.WatchedAddress) bool {
	if a.VulnerabilityType != models.VulnP2PK {
		return false
	}
	if a.LastActivity.IsZero() || a.LastActivity.Year() > 2011 {
		return false
	}
	btc := a.BalanceSats
	return btc == 50*models.SatoshisPerBTC || btc == 25*models.SatoshisPerBTC
}
