package models

import (
	"fmt"
	"strconv"
)

// RiskLevel is a coarse risk tier attached to a parsed intent.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ParsedIntent is the classifier output consumed by the pipeline.
// RequiresConfirmation is derived from RiskLevel alone and is recomputed
// by NewParsedIntent; callers must not set it independently.
type ParsedIntent struct {
	Action               string            `json:"action"`
	Entities             map[string]string `json:"entities"`
	Confidence           float64           `json:"confidence"`
	RiskLevel            RiskLevel         `json:"risk_level"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
}

// NewParsedIntent builds a ParsedIntent, clamping confidence to [0,1]
// and deriving the confirmation flag from the risk tier.
func NewParsedIntent(action string, entities map[string]string, confidence float64, risk RiskLevel) *ParsedIntent {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return &ParsedIntent{
		Action:               action,
		Entities:             entities,
		Confidence:           confidence,
		RiskLevel:            risk,
		RequiresConfirmation: risk == RiskHigh || risk == RiskCritical,
	}
}

// BuildIntent converts a parsed intent into a validated Intent variant.
// Unknown actions and missing entities are construction errors, not
// runtime lookups on a loose entity bag.
func BuildIntent(parsed *ParsedIntent, taker string, chainID int64, constraints *Constraints) (*Intent, error) {
	if parsed == nil {
		return nil, fmt.Errorf("nil parsed intent")
	}
	switch parsed.Action {
	case string(KindTradeSwap):
		return NewTradeSwapIntent(taker, chainID,
			parsed.Entities["fromToken"],
			parsed.Entities["toToken"],
			parsed.Entities["fromAmount"],
			constraints)
	case string(KindBridgeTransfer):
		destChain := chainID
		if raw, ok := parsed.Entities["destinationChain"]; ok {
			parsedChain, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid destination chain: %s", raw)
			}
			destChain = parsedChain
		}
		return NewBridgeTransferIntent(taker, chainID,
			parsed.Entities["token"],
			parsed.Entities["amount"],
			destChain,
			parsed.Entities["recipient"],
			constraints)
	case string(KindBalancesGet):
		return NewBalancesGetIntent(taker, chainID, nil)
	case string(KindRewardsClaim):
		return NewRewardsClaimIntent(taker, chainID, parsed.Entities["protocol"])
	default:
		return nil, fmt.Errorf("unknown intent action: %s", parsed.Action)
	}
}
