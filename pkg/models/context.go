package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the pipeline state of an execution context.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusPreflight Status = "preflight"
	StatusPreviewed Status = "previewed"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// statusRank orders the happy-path states so transitions can be checked
// for monotonicity. Terminal states sit above every non-terminal one.
var statusRank = map[Status]int{
	StatusPlanned:   0,
	StatusPreflight: 1,
	StatusPreviewed: 2,
	StatusBuilding:  3,
	StatusSubmitted: 4,
	StatusCompleted: 5,
	StatusFailed:    6,
	StatusRejected:  6,
}

// IsValidStatus reports whether the status is a supported enum value.
func IsValidStatus(s Status) bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further pipeline transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// CanTransitionTo reports whether moving from s to next is legal.
// Backward moves are never legal; failed is reachable from any
// non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	if next == StatusRejected {
		return s == StatusPlanned || s == StatusPreviewed
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to == from+1 || next == s
}

// Quote is the provider-agnostic quote an intent executes against.
// Wei-denominated values are decimal strings; UsdValue is the estimated
// USD size of the quoted position, used for spend-limit checks.
type Quote struct {
	FromToken        string          `json:"from_token,omitempty"`
	ToToken          string          `json:"to_token,omitempty"`
	FromAmount       string          `json:"from_amount,omitempty"`
	ToAmount         string          `json:"to_amount,omitempty"`
	SourceChain      int64           `json:"source_chain,omitempty"`
	DestinationChain int64           `json:"destination_chain,omitempty"`
	UsdValue         decimal.Decimal `json:"usd_value"`
	SlippageBps      int             `json:"slippage_bps"`
	EstimatedGas     uint64          `json:"estimated_gas"`
	GasPriceWei      string          `json:"gas_price_wei"`
	// To is the contract the built transaction will call
	To string `json:"to"`
	// CallData is the provider-supplied calldata for the main call
	CallData string `json:"call_data,omitempty"`
	// AllowanceTarget is the contract that must be able to move the
	// taker's tokens; empty for native-value operations
	AllowanceTarget string    `json:"allowance_target,omitempty"`
	SupportsPermit2 bool      `json:"supports_permit2"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// IsStale reports whether the quote is older than maxAge at time now.
func (q *Quote) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(q.FetchedAt) > maxAge
}

// TokenBalance is a single balance row from the balance provider.
type TokenBalance struct {
	Token    string           `json:"token"`
	Symbol   string           `json:"symbol"`
	Amount   string           `json:"amount"`
	UsdValue *decimal.Decimal `json:"usd_value,omitempty"`
}

// Reward is a claimable reward row from the rewards provider.
type Reward struct {
	Protocol string           `json:"protocol"`
	Token    string           `json:"token"`
	Amount   string           `json:"amount"`
	UsdValue *decimal.Decimal `json:"usd_value,omitempty"`
}

// ExecutionContext accompanies one intent through the pipeline. The
// executor owns it for the duration of a run and persists it after every
// stage transition, so a crash mid-pipeline leaves a recoverable status.
type ExecutionContext struct {
	IntentID    string            `json:"intent_id"`
	UserID      string            `json:"user_id"`
	Intent      Intent            `json:"intent"`
	Status      Status            `json:"status"`
	Quote       *Quote            `json:"quote,omitempty"`
	Preview     *Preview          `json:"preview,omitempty"`
	Transaction *BuiltTransaction `json:"transaction,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ExecutedAt  *time.Time        `json:"executed_at,omitempty"`
}

// Clone returns a deep-enough copy for handing across goroutines. The
// nested pointers are replaced wholesale by the pipeline, never mutated
// in place, so a shallow copy of each is sufficient.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	out := *c
	if c.Quote != nil {
		q := *c.Quote
		out.Quote = &q
	}
	if c.Preview != nil {
		out.Preview = c.Preview.Clone()
	}
	if c.Transaction != nil {
		tx := *c.Transaction
		out.Transaction = &tx
	}
	if c.ExecutedAt != nil {
		t := *c.ExecutedAt
		out.ExecutedAt = &t
	}
	return &out
}
