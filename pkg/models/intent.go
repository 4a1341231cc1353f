package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IntentKind identifies which variant of the intent union is populated.
type IntentKind string

const (
	// KindBalancesGet requests the taker's token balances on a chain
	KindBalancesGet IntentKind = "balances.get"
	// KindTradeSwap requests a token swap on a single chain
	KindTradeSwap IntentKind = "trade.swap"
	// KindBridgeTransfer requests a cross-chain token transfer
	KindBridgeTransfer IntentKind = "bridge.transfer"
	// KindRewardsClaim requests claiming accrued protocol rewards
	KindRewardsClaim IntentKind = "rewards.claim"
)

// Constraints carries optional user-supplied execution constraints.
// Amounts and prices are decimal strings to avoid float precision loss.
type Constraints struct {
	SlippageBps      int      `json:"slippage_bps,omitempty"`
	PreferredSources []string `json:"preferred_sources,omitempty"`
	MaxGasPriceWei   string   `json:"max_gas_price_wei,omitempty"`
	DeadlineUnix     int64    `json:"deadline_unix,omitempty"`
	Simulate         bool     `json:"simulate,omitempty"`
}

// SwapDetails holds the fields required by a trade.swap intent.
type SwapDetails struct {
	FromToken  string `json:"from_token"`
	ToToken    string `json:"to_token"`
	FromAmount string `json:"from_amount"`
}

// BridgeDetails holds the fields required by a bridge.transfer intent.
type BridgeDetails struct {
	Token            string `json:"token"`
	Amount           string `json:"amount"`
	DestinationChain int64  `json:"destination_chain"`
	Recipient        string `json:"recipient"`
}

// BalancesDetails holds the fields of a balances.get intent.
type BalancesDetails struct {
	// Tokens optionally restricts the lookup; empty means all known tokens
	Tokens []string `json:"tokens,omitempty"`
}

// RewardsDetails holds the fields of a rewards.claim intent.
type RewardsDetails struct {
	// Protocol optionally restricts claiming to a single protocol
	Protocol string `json:"protocol,omitempty"`
}

// Intent is a tagged union over the four supported intent variants.
// Exactly one of the variant pointers is non-nil, matching Kind.
// Intents are immutable once constructed; use the New*Intent constructors
// so required fields are validated up front instead of on access.
type Intent struct {
	Kind         IntentKind       `json:"kind"`
	TakerAddress string           `json:"taker_address"`
	ChainID      int64            `json:"chain_id"`
	Swap         *SwapDetails     `json:"swap,omitempty"`
	Bridge       *BridgeDetails   `json:"bridge,omitempty"`
	Balances     *BalancesDetails `json:"balances,omitempty"`
	Rewards      *RewardsDetails  `json:"rewards,omitempty"`
	Constraints  *Constraints     `json:"constraints,omitempty"`
}

func validateCommon(taker string, chainID int64) error {
	if !common.IsHexAddress(taker) {
		return fmt.Errorf("invalid taker address: %s", taker)
	}
	if chainID <= 0 {
		return fmt.Errorf("chain id must be positive, got %d", chainID)
	}
	return nil
}

func validateAmount(field, amount string) error {
	if amount == "" {
		return fmt.Errorf("%s is required", field)
	}
	dot := false
	digits := 0
	for _, r := range amount {
		if r == '.' {
			if dot {
				return fmt.Errorf("invalid %s: %s", field, amount)
			}
			dot = true
			continue
		}
		if r < '0' || r > '9' {
			return fmt.Errorf("invalid %s: %s", field, amount)
		}
		digits++
	}
	if digits == 0 {
		return fmt.Errorf("invalid %s: %s", field, amount)
	}
	return nil
}

// NewTradeSwapIntent constructs a validated trade.swap intent.
func NewTradeSwapIntent(taker string, chainID int64, fromToken, toToken, fromAmount string, constraints *Constraints) (*Intent, error) {
	if err := validateCommon(taker, chainID); err != nil {
		return nil, err
	}
	if fromToken == "" || toToken == "" {
		return nil, fmt.Errorf("swap requires both from_token and to_token")
	}
	if strings.EqualFold(fromToken, toToken) {
		return nil, fmt.Errorf("cannot swap %s for itself", fromToken)
	}
	if err := validateAmount("from_amount", fromAmount); err != nil {
		return nil, err
	}
	return &Intent{
		Kind:         KindTradeSwap,
		TakerAddress: NormalizeAddress(taker),
		ChainID:      chainID,
		Swap: &SwapDetails{
			FromToken:  strings.ToUpper(fromToken),
			ToToken:    strings.ToUpper(toToken),
			FromAmount: fromAmount,
		},
		Constraints: constraints,
	}, nil
}

// NewBridgeTransferIntent constructs a validated bridge.transfer intent.
func NewBridgeTransferIntent(taker string, chainID int64, token, amount string, destChain int64, recipient string, constraints *Constraints) (*Intent, error) {
	if err := validateCommon(taker, chainID); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("bridge transfer requires a token")
	}
	if err := validateAmount("amount", amount); err != nil {
		return nil, err
	}
	if destChain <= 0 {
		return nil, fmt.Errorf("destination chain id must be positive, got %d", destChain)
	}
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid recipient address: %s", recipient)
	}
	return &Intent{
		Kind:         KindBridgeTransfer,
		TakerAddress: NormalizeAddress(taker),
		ChainID:      chainID,
		Bridge: &BridgeDetails{
			Token:            strings.ToUpper(token),
			Amount:           amount,
			DestinationChain: destChain,
			Recipient:        NormalizeAddress(recipient),
		},
		Constraints: constraints,
	}, nil
}

// NewBalancesGetIntent constructs a validated balances.get intent.
func NewBalancesGetIntent(taker string, chainID int64, tokens []string) (*Intent, error) {
	if err := validateCommon(taker, chainID); err != nil {
		return nil, err
	}
	return &Intent{
		Kind:         KindBalancesGet,
		TakerAddress: NormalizeAddress(taker),
		ChainID:      chainID,
		Balances:     &BalancesDetails{Tokens: tokens},
	}, nil
}

// NewRewardsClaimIntent constructs a validated rewards.claim intent.
func NewRewardsClaimIntent(taker string, chainID int64, protocol string) (*Intent, error) {
	if err := validateCommon(taker, chainID); err != nil {
		return nil, err
	}
	return &Intent{
		Kind:         KindRewardsClaim,
		TakerAddress: NormalizeAddress(taker),
		ChainID:      chainID,
		Rewards:      &RewardsDetails{Protocol: protocol},
	}, nil
}

// NormalizeAddress lowercases a hex address for stable comparisons.
func NormalizeAddress(addr string) string {
	return strings.ToLower(common.HexToAddress(addr).Hex())
}
