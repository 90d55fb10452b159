package checker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/internal/adapters/config"
	"github.com/satoshis-endgame/sentinel/internal/adapters/providers"
	"github.com/satoshis-endgame/sentinel/internal/registry"
	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// AddressSource fetches live address state.
type AddressSource interface {
	AddressInfo(ctx context.Context, address string) (*models.AddressInfo, error)
}

// DirectChecker polls the highest-risk addresses directly instead of waiting
// for their activity to surface in a scanned block. Each address is checked at
// most once per its tier's interval, and every fetch is best-effort: block
// scanning always has first claim on the provider rate budget.
type DirectChecker struct {
	cfg    config.CheckerConfig
	reg    *registry.Registry
	source AddressSource

	mu          sync.Mutex
	lastChecked map[string]time.Time

	now func() time.Time
}

// New creates the direct check worker.
func New(cfg config.CheckerConfig, reg *registry.Registry, source AddressSource) *DirectChecker {
	return &DirectChecker{
		cfg:         cfg,
		reg:         reg,
		source:      source,
		lastChecked: make(map[string]time.Time),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Name returns worker name for logging
func (c *DirectChecker) Name() string {
	return "direct_check"
}

// Run executes one sweep over the top-risk addresses. A dry rate bucket ends
// the sweep early; the next tick picks up where this one left off.
func (c *DirectChecker) Run(ctx context.Context) error {
	now := c.now()
	checked := 0

	for _, a := range c.reg.TopRisk(c.cfg.TopAddresses) {
		tier := registry.TierForScore(a.RiskScore)
		if tier.CheckInterval <= 0 {
			continue // low tier relies on block scanning alone
		}
		if !c.due(a.Address, now, time.Duration(tier.CheckInterval)*time.Minute) {
			continue
		}

		info, err := c.source.AddressInfo(ctx, a.Address)
		if err != nil {
			if providers.IsRateLimited(err) {
				logger.Debug("direct check sweep ended, rate budget spent",
					zap.Int("checked", checked),
				)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("direct check fetch failed",
				zap.String("address", a.Address),
				zap.Error(err),
			)
			continue
		}

		c.markChecked(a.Address, now)
		checked++

		if info.BalanceSats != a.BalanceSats || info.TxCount != a.TxCount {
			logger.Warn("direct check found address state change",
				zap.String("address", a.Address),
				zap.String("tier", tier.Name),
				zap.Int64("balance_sats", info.BalanceSats),
				zap.Int64("previous_balance_sats", a.BalanceSats),
				zap.Int("tx_count", info.TxCount),
			)
			at := info.LastActivity
			if at.IsZero() {
				at = now
			}
			c.reg.MarkActivity(ctx, a.Address, at, info.BalanceSats, info.TxCount)
		}
	}

	if checked > 0 {
		logger.Debug("direct check sweep complete",
			zap.Int("checked", checked),
		)
	}
	return nil
}

func (c *DirectChecker) due(address string, now time.Time, interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastChecked[address]
	return !ok || now.Sub(last) >= interval
}

func (c *DirectChecker) markChecked(address string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChecked[address] = now
}
