package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// ChainProvider is the capability interface for one upstream block data
// source. Implementations: Blockstream and mempool.space Esplora adapters.
type ChainProvider interface {
	// Name returns provider name for logging
	Name() string

	// LatestHeight returns the current chain tip height
	LatestHeight(ctx context.Context) (int64, error)

	// GetBlock returns one block with its transactions
	GetBlock(ctx context.Context, height int64) (*models.Block, error)

	// AddressInfo returns balance, tx count and last activity for an address
	AddressInfo(ctx context.Context, address string) (*models.AddressInfo, error)
}

// ErrorKind classifies provider failures for fallback decisions.
type ErrorKind int

const (
	ErrKindNetwork ErrorKind = iota
	ErrKindRateLimit
	ErrKindInvalidResponse
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindNetwork:
		return "network"
	case ErrKindRateLimit:
		return "rate_limit"
	case ErrKindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// ProviderError is a classified failure from one upstream source.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps an underlying error with provider and kind.
func NewProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// ErrProviderExhausted is returned when every provider in the pool failed for
// one logical call. Callers treat it as transient for the current cycle.
var ErrProviderExhausted = errors.New("all providers exhausted")

// IsRateLimited reports whether err is a rate-limit classified provider error.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ErrKindRateLimit
}
