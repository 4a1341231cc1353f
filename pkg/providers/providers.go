package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/wallethub-hq/intentrunner/pkg/models"
)

// Provider kind labels used for metrics and circuit breakers.
const (
	KindSwap     = "swap"
	KindBridge   = "bridge"
	KindBalances = "balances"
	KindRewards  = "rewards"
)

// ProviderError wraps a failed or timed-out upstream call. The pipeline
// treats it as a preflight failure and never substitutes default values;
// the documented empty-result cases (no balances, no claimable rewards)
// are returned as empty slices, not errors.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err originated from an upstream provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// ErrNotConfigured is returned by providers that have not been wired to
// a real upstream. Deployments must supply working implementations.
var ErrNotConfigured = errors.New("provider not configured")

// SwapQuoteRequest parameterizes a single-chain swap quote.
type SwapQuoteRequest struct {
	TakerAddress string
	ChainID      int64
	FromToken    string
	ToToken      string
	FromAmount   string
	Constraints  *models.Constraints
}

// BridgeQuoteRequest parameterizes a cross-chain transfer quote.
type BridgeQuoteRequest struct {
	TakerAddress     string
	SourceChain      int64
	DestinationChain int64
	Token            string
	Amount           string
	Recipient        string
	Constraints      *models.Constraints
}

// SwapQuoteProvider sources DEX swap quotes.
type SwapQuoteProvider interface {
	GetSwapQuote(ctx context.Context, req SwapQuoteRequest) (*models.Quote, error)
}

// BridgeQuoteProvider sources cross-chain bridge quotes.
type BridgeQuoteProvider interface {
	GetBridgeQuote(ctx context.Context, req BridgeQuoteRequest) (*models.Quote, error)
}

// BalanceProvider sources token balances for an address. An empty slice
// is a valid result, not an error.
type BalanceProvider interface {
	GetBalances(ctx context.Context, taker string, chainID int64) ([]models.TokenBalance, error)
}

// RewardsProvider sources claimable rewards for an address. An empty
// slice is a valid result, not an error.
type RewardsProvider interface {
	GetClaimableRewards(ctx context.Context, taker string, chainID int64) ([]models.Reward, error)
}

// Unconfigured satisfies every provider interface by failing with
// ErrNotConfigured. It is the default wiring until real upstreams
// (DEX aggregator, bridge router, indexer) are plugged in.
type Unconfigured struct{}

var (
	_ SwapQuoteProvider   = Unconfigured{}
	_ BridgeQuoteProvider = Unconfigured{}
	_ BalanceProvider     = Unconfigured{}
	_ RewardsProvider     = Unconfigured{}
)

func (Unconfigured) GetSwapQuote(context.Context, SwapQuoteRequest) (*models.Quote, error) {
	return nil, &ProviderError{Provider: KindSwap, Err: ErrNotConfigured}
}

func (Unconfigured) GetBridgeQuote(context.Context, BridgeQuoteRequest) (*models.Quote, error) {
	return nil, &ProviderError{Provider: KindBridge, Err: ErrNotConfigured}
}

func (Unconfigured) GetBalances(context.Context, string, int64) ([]models.TokenBalance, error) {
	return nil, &ProviderError{Provider: KindBalances, Err: ErrNotConfigured}
}

func (Unconfigured) GetClaimableRewards(context.Context, string, int64) ([]models.Reward, error) {
	return nil, &ProviderError{Provider: KindRewards, Err: ErrNotConfigured}
}
