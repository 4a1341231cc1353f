package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserLimits holds per-user spend policy and the running daily counter.
// DailySpentUsd is monotonically non-decreasing within a calendar day,
// reset to zero exactly once per day boundary, and mutated only through
// the safety limiter.
type UserLimits struct {
	UserID         string           `json:"user_id"`
	DailyUsdCap    *decimal.Decimal `json:"daily_usd_cap,omitempty"`
	MaxApprovalUsd *decimal.Decimal `json:"max_approval_usd,omitempty"`
	Allowlist      []string         `json:"allowlist,omitempty"`
	DailySpentUsd  decimal.Decimal  `json:"daily_spent_usd"`
	LastResetAt    time.Time        `json:"last_reset_at"`
}

// AllowlistContains reports whether the case-folded address is a member.
// An empty allowlist never matches; callers treat that as "no policy".
func (l *UserLimits) AllowlistContains(addr string) bool {
	folded := strings.ToLower(addr)
	for _, entry := range l.Allowlist {
		if strings.ToLower(entry) == folded {
			return true
		}
	}
	return false
}

// HasAllowlist reports whether an allowlist policy is configured.
func (l *UserLimits) HasAllowlist() bool {
	return len(l.Allowlist) > 0
}
