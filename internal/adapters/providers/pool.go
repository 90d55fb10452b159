package providers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// Pool walks providers in fixed priority order. A provider-level error falls
// through to the next provider with no same-provider retry inside one logical
// call; exhausting the list fails with ErrProviderExhausted.
type Pool struct {
	providers   []ChainProvider
	callTimeout time.Duration
}

// NewPool creates a pool over providers in priority order.
func NewPool(callTimeout time.Duration, providers ...ChainProvider) *Pool {
	return &Pool{
		providers:   providers,
		callTimeout: callTimeout,
	}
}

// Providers returns the configured priority order (for startup logging).
func (p *Pool) Providers() []string {
	names := make([]string, 0, len(p.providers))
	for _, prov := range p.providers {
		names = append(names, prov.Name())
	}
	return names
}

// call runs fn against each provider until one succeeds. Each attempt gets its
// own per-call timeout; timeout is indistinguishable from a network error.
func (p *Pool) call(ctx context.Context, op string, fn func(ctx context.Context, prov ChainProvider) error) error {
	if len(p.providers) == 0 {
		return fmt.Errorf("%s: no providers configured: %w", op, ErrProviderExhausted)
	}

	var lastErr error
	for i, prov := range p.providers {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.callTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
		}
		err := fn(attemptCtx, prov)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			if i > 0 {
				logger.Info("call served by fallback provider",
					zap.String("op", op),
					zap.String("provider", prov.Name()),
					zap.Int("attempt", i+1),
				)
			}
			return nil
		}
		// Outer cancellation is not a provider fault; stop immediately.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		logger.Debug("provider call failed, falling back",
			zap.String("op", op),
			zap.String("provider", prov.Name()),
			zap.Int("attempt", i+1),
			zap.Int("providers", len(p.providers)),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%s: %w: last error: %w", op, ErrProviderExhausted, lastErr)
}

// LatestHeight returns the chain tip height from the first healthy provider.
func (p *Pool) LatestHeight(ctx context.Context) (int64, error) {
	var height int64
	err := p.call(ctx, "latest_height", func(ctx context.Context, prov ChainProvider) error {
		h, err := prov.LatestHeight(ctx)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	return height, err
}

// GetBlock returns one block from the first healthy provider.
func (p *Pool) GetBlock(ctx context.Context, height int64) (*models.Block, error) {
	var block *models.Block
	err := p.call(ctx, "get_block", func(ctx context.Context, prov ChainProvider) error {
		b, err := prov.GetBlock(ctx, height)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	return block, err
}

// AddressInfo returns address details from the first healthy provider.
func (p *Pool) AddressInfo(ctx context.Context, address string) (*models.AddressInfo, error) {
	var info *models.AddressInfo
	err := p.call(ctx, "address_info", func(ctx context.Context, prov ChainProvider) error {
		i, err := prov.AddressInfo(ctx, address)
		if err != nil {
			return err
		}
		info = i
		return nil
	})
	return info, err
}
