package pipeline

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/wallethub-hq/intentrunner/pkg/limiter"
	"github.com/wallethub-hq/intentrunner/pkg/metrics"
	"github.com/wallethub-hq/intentrunner/pkg/models"
)

var weiPerEth = decimal.New(1, 18)

// swapPreview renders the variant-specific part of a swap preview.
func swapPreview(intent *models.Intent, quote *models.Quote) *models.Preview {
	usd := quote.UsdValue
	return &models.Preview{
		Summary: fmt.Sprintf("Swap %s %s for ~%s %s",
			intent.Swap.FromAmount, intent.Swap.FromToken, quote.ToAmount, intent.Swap.ToToken),
		TokenDeltas: []models.TokenDelta{
			{Token: quote.FromToken, Symbol: intent.Swap.FromToken, Amount: quote.FromAmount, Direction: models.DeltaOut, UsdValue: &usd},
			{Token: quote.ToToken, Symbol: intent.Swap.ToToken, Amount: quote.ToAmount, Direction: models.DeltaIn},
		},
		GasCost: gasCost(quote),
	}
}

// bridgePreview renders the variant-specific part of a transfer preview.
func bridgePreview(intent *models.Intent, quote *models.Quote) *models.Preview {
	usd := quote.UsdValue
	return &models.Preview{
		Summary: fmt.Sprintf("Send %s %s to %s on chain %d",
			intent.Bridge.Amount, intent.Bridge.Token, intent.Bridge.Recipient, intent.Bridge.DestinationChain),
		TokenDeltas: []models.TokenDelta{
			{Token: quote.FromToken, Symbol: intent.Bridge.Token, Amount: quote.FromAmount, Direction: models.DeltaOut, UsdValue: &usd},
		},
		GasCost: gasCost(quote),
	}
}

// balancesPreview renders a read-only balances result. No funds move,
// so there are no deltas and no gas block.
func balancesPreview(intent *models.Intent, balances []models.TokenBalance) *models.Preview {
	preview := &models.Preview{
		Summary: fmt.Sprintf("%d token balance(s) for %s on chain %d",
			len(balances), intent.TakerAddress, intent.ChainID),
	}
	for _, b := range balances {
		preview.TokenDeltas = append(preview.TokenDeltas, models.TokenDelta{
			Token:    b.Token,
			Symbol:   b.Symbol,
			Amount:   b.Amount,
			UsdValue: b.UsdValue,
			// Held balances are rendered as inbound for display purposes
			Direction: models.DeltaIn,
		})
	}
	return preview
}

// rewardsPreview renders the claimable rewards found for the taker.
func rewardsPreview(intent *models.Intent, rewards []models.Reward) *models.Preview {
	filtered := rewards
	if intent.Rewards != nil && intent.Rewards.Protocol != "" {
		filtered = nil
		for _, r := range rewards {
			if r.Protocol == intent.Rewards.Protocol {
				filtered = append(filtered, r)
			}
		}
	}
	preview := &models.Preview{
		Summary: fmt.Sprintf("%d claimable reward(s) for %s", len(filtered), intent.TakerAddress),
	}
	for _, r := range filtered {
		preview.TokenDeltas = append(preview.TokenDeltas, models.TokenDelta{
			Token:     r.Token,
			Symbol:    r.Token,
			Amount:    r.Amount,
			Direction: models.DeltaIn,
			UsdValue:  r.UsdValue,
		})
	}
	return preview
}

// gasCost converts a quote's gas estimate into the preview gas block.
func gasCost(quote *models.Quote) models.GasCost {
	cost := models.GasCost{
		EstimatedGas: quote.EstimatedGas,
		GasPriceWei:  quote.GasPriceWei,
		TotalCostEth: "0",
	}
	price, err := decimal.NewFromString(quote.GasPriceWei)
	if err != nil || quote.EstimatedGas == 0 {
		return cost
	}
	totalWei := price.Mul(decimal.NewFromUint64(quote.EstimatedGas))
	cost.TotalCostEth = totalWei.Div(weiPerEth).String()
	return cost
}

// finishPreview attaches the advisory warnings to a synthesized preview:
// high slippage, elevated gas price, and a limiter dry-run rejection.
// Warnings never block; enforcement happens at build time.
func (e *Executor) finishPreview(ctx context.Context, ectx *models.ExecutionContext, preview *models.Preview) *models.Preview {
	if preview == nil {
		preview = &models.Preview{Summary: string(ectx.Intent.Kind)}
	}
	quote := ectx.Quote
	if quote == nil {
		return preview
	}

	if quote.SlippageBps > e.cfg.SlippageWarnBps {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("high slippage: %d bps exceeds %d bps", quote.SlippageBps, e.cfg.SlippageWarnBps))
	}

	if gasPrice, ok := new(big.Int).SetString(quote.GasPriceWei, 10); ok {
		if e.cfg.GasWarnThreshold != nil && gasPrice.Cmp(e.cfg.GasWarnThreshold) > 0 {
			preview.Warnings = append(preview.Warnings, "gas prices are high right now")
		}
	}

	if !quote.UsdValue.IsZero() {
		if err := e.limiter.Check(ctx, ectx.UserID, quote.UsdValue, counterparty(ectx)); err != nil {
			if limiter.IsRejection(err) {
				preview.Warnings = append(preview.Warnings,
					fmt.Sprintf("spending limit: %v", err))
			} else {
				e.log.Error("limiter dry-run failed for intent %s: %v", ectx.IntentID, err)
			}
		}
	}

	for range preview.Warnings {
		metrics.PreviewWarnings.WithLabelValues(string(ectx.Intent.Kind)).Inc()
	}
	return preview
}
