package models

import "github.com/shopspring/decimal"

// DeltaDirection marks a token delta as entering or leaving the wallet.
type DeltaDirection string

const (
	DeltaIn  DeltaDirection = "in"
	DeltaOut DeltaDirection = "out"
)

// TokenDelta is one expected token movement in a preview.
type TokenDelta struct {
	Token     string           `json:"token"`
	Symbol    string           `json:"symbol"`
	Amount    string           `json:"amount"`
	Direction DeltaDirection   `json:"direction"`
	UsdValue  *decimal.Decimal `json:"usd_value,omitempty"`
}

// GasCost summarizes the expected gas spend for an intent.
type GasCost struct {
	EstimatedGas uint64           `json:"estimated_gas"`
	GasPriceWei  string           `json:"gas_price_wei"`
	TotalCostEth string           `json:"total_cost_eth"`
	TotalCostUsd *decimal.Decimal `json:"total_cost_usd,omitempty"`
}

// DecodedCall is a human-readable rendering of a calldata segment.
type DecodedCall struct {
	To       string `json:"to"`
	Method   string `json:"method"`
	Rendered string `json:"rendered"`
}

// SimulationResult is the outcome of an optional dry-run simulation.
type SimulationResult struct {
	Success bool   `json:"success"`
	GasUsed uint64 `json:"gas_used"`
	Revert  string `json:"revert,omitempty"`
}

// Preview is the human-readable, non-binding summary of an intent's
// expected effect. It is derived data: recomputed whenever the preview
// stage runs and always replaced wholesale, never patched in place.
type Preview struct {
	Summary          string            `json:"summary"`
	TokenDeltas      []TokenDelta      `json:"token_deltas"`
	GasCost          GasCost           `json:"gas_cost"`
	Warnings         []string          `json:"warnings"`
	DecodedCalls     []DecodedCall     `json:"decoded_calls,omitempty"`
	SimulationResult *SimulationResult `json:"simulation_result,omitempty"`
}

// Clone returns an independent copy of the preview.
func (p *Preview) Clone() *Preview {
	if p == nil {
		return nil
	}
	out := *p
	out.TokenDeltas = append([]TokenDelta(nil), p.TokenDeltas...)
	out.Warnings = append([]string(nil), p.Warnings...)
	out.DecodedCalls = append([]DecodedCall(nil), p.DecodedCalls...)
	if p.SimulationResult != nil {
		sim := *p.SimulationResult
		out.SimulationResult = &sim
	}
	return &out
}
