package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// Repository is the persistence boundary for watched addresses.
type Repository interface {
	LoadWatchedAddresses(ctx context.Context) ([]models.WatchedAddress, error)
	UpdateAddressActivity(ctx context.Context, addr *models.WatchedAddress) error
}

// Registry is the in-memory set of surveilled addresses. Loaded once at
// startup; entries are mutated only after a confirmed activity event and
// never removed during a run.
type Registry struct {
	mu        sync.RWMutex
	addresses map[string]*models.WatchedAddress
	repo      Repository
}

// Load builds the registry from the persistence boundary. Failure here is
// fatal for the process: there is no baseline to monitor without it.
func Load(ctx context.Context, repo Repository) (*Registry, error) {
	addrs, err := repo.LoadWatchedAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load watched addresses: %w", err)
	}

	r := &Registry{
		addresses: make(map[string]*models.WatchedAddress, len(addrs)),
		repo:      repo,
	}
	now := time.Now().UTC()
	for i := range addrs {
		a := addrs[i]
		a.RiskScore = RiskScore(a.BalanceSats, a.DormancyDays(now), a.VulnerabilityType)
		a.SatoshiEra = IsSatoshiEra(&a)
		r.addresses[a.Address] = &a
	}

	logger.Info("watched address registry loaded",
		zap.Int("addresses", len(r.addresses)),
	)

	return r, nil
}

// Size returns the number of watched addresses.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.addresses)
}

// Contains reports membership in O(1).
func (r *Registry) Contains(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.addresses[address]
	return ok
}

// Get returns a copy of the entry for an address.
func (r *Registry) Get(address string) (models.WatchedAddress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.addresses[address]
	if !ok {
		return models.WatchedAddress{}, false
	}
	return *a, true
}

// DormancyDays returns full days of inactivity for an address as of now.
// Returns false for addresses outside the registry.
func (r *Registry) DormancyDays(address string, now time.Time) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.addresses[address]
	if !ok {
		return 0, false
	}
	return a.DormancyDays(now), true
}

// MarkActivity records a confirmed activity event: last activity moves
// forward, balance refreshes, and the risk score is recomputed. The update is
// persisted best-effort.
func (r *Registry) MarkActivity(ctx context.Context, address string, at time.Time, balanceSats int64, txCount int) {
	r.mu.Lock()
	a, ok := r.addresses[address]
	if !ok {
		r.mu.Unlock()
		return
	}
	if at.After(a.LastActivity) {
		a.LastActivity = at
	}
	a.BalanceSats = balanceSats
	if txCount > 0 {
		a.TxCount = txCount
	}
	a.RiskScore = RiskScore(a.BalanceSats, a.DormancyDays(at), a.VulnerabilityType)
	updated := *a
	r.mu.Unlock()

	if err := r.repo.UpdateAddressActivity(ctx, &updated); err != nil {
		logger.Warn("failed to persist address activity update",
			zap.String("address", abbreviate(address)),
			zap.Error(err),
		)
	}
}

// TopRisk returns up to n entries ordered by descending risk score. Used for
// tier-based direct checks, not for detection.
func (r *Registry) TopRisk(n int) []models.WatchedAddress {
	r.mu.RLock()
	out := make([]models.WatchedAddress, 0, len(r.addresses))
	for _, a := range r.addresses {
		out = append(out, *a)
	}
	r.mu.RUnlock()

	// Insertion sort is fine at registry scale; called rarely.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].RiskScore > out[j-1].RiskScore; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// Stats summarizes registry composition for logging and health output.
type Stats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	SatoshiEra int            `json:"satoshi_era"`
	ByTier     map[string]int `json:"by_tier"`
}

// Stats returns registry composition counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Total:  len(r.addresses),
		ByType: make(map[string]int),
		ByTier: make(map[string]int),
	}
	for _, a := range r.addresses {
		s.ByType[string(a.VulnerabilityType)]++
		if a.SatoshiEra {
			s.SatoshiEra++
		}
		s.ByTier[TierForScore(a.RiskScore).Name]++
	}
	return s
}

func abbreviate(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10] + "..."
}
