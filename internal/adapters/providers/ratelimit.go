package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// RateLimitedProvider wraps one ChainProvider with a token bucket: capacity C,
// refill R tokens/sec. Blocking calls suspend on the limiter until a token is
// available; in best-effort mode a drained bucket rejects immediately with a
// rate-limit error instead of waiting.
type RateLimitedProvider struct {
	inner      ChainProvider
	limiter    *rate.Limiter
	bestEffort bool
}

// NewRateLimitedProvider wraps a provider with a token bucket limiter.
func NewRateLimitedProvider(inner ChainProvider, ratePerSec float64, capacity int) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), capacity),
	}
}

// BestEffort returns a view of the same provider (sharing the same bucket)
// that never blocks on the limiter.
func (rl *RateLimitedProvider) BestEffort() *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:      rl.inner,
		limiter:    rl.limiter,
		bestEffort: true,
	}
}

// Name returns the wrapped provider's name.
func (rl *RateLimitedProvider) Name() string {
	return rl.inner.Name()
}

// acquire takes one token, blocking unless in best-effort mode.
func (rl *RateLimitedProvider) acquire(ctx context.Context) error {
	if rl.bestEffort {
		if !rl.limiter.Allow() {
			return NewProviderError(rl.inner.Name(), ErrKindRateLimit,
				fmt.Errorf("token bucket empty"))
		}
		return nil
	}
	if err := rl.limiter.Wait(ctx); err != nil {
		// Context expiry while waiting counts as a network-class failure.
		return NewProviderError(rl.inner.Name(), ErrKindNetwork, err)
	}
	return nil
}

// TryAcquire consumes a token without blocking. Exposed for tests of the
// bucket invariant.
func (rl *RateLimitedProvider) TryAcquire() bool {
	return rl.limiter.Allow()
}

// LatestHeight returns the chain tip height after acquiring a token.
func (rl *RateLimitedProvider) LatestHeight(ctx context.Context) (int64, error) {
	if err := rl.acquire(ctx); err != nil {
		return 0, err
	}
	return rl.inner.LatestHeight(ctx)
}

// GetBlock returns one block after acquiring a token.
func (rl *RateLimitedProvider) GetBlock(ctx context.Context, height int64) (*models.Block, error) {
	if err := rl.acquire(ctx); err != nil {
		return nil, err
	}
	return rl.inner.GetBlock(ctx, height)
}

// AddressInfo returns address details after acquiring a token.
func (rl *RateLimitedProvider) AddressInfo(ctx context.Context, address string) (*models.AddressInfo, error) {
	if err := rl.acquire(ctx); err != nil {
		return nil, err
	}
	return rl.inner.AddressInfo(ctx, address)
}
