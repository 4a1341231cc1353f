package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wallethub-hq/intentrunner/pkg/logger"
	"github.com/wallethub-hq/intentrunner/pkg/metrics"
	"github.com/wallethub-hq/intentrunner/pkg/models"
	"github.com/wallethub-hq/intentrunner/pkg/store"
)

// Rejection reasons.
const (
	ReasonDailyCap    = "daily_cap"
	ReasonAllowlist   = "allowlist"
	ReasonMaxApproval = "max_approval"
)

// RejectionError reports why the limiter refused a financial effect.
type RejectionError struct {
	Reason  string
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// IsRejection reports whether err is a limiter rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// Limiter gates state-changing financial effects against per-user policy:
// a daily USD cap and an optional counterparty allowlist. Counters live
// in the limits store; per-user mutexes serialize concurrent evaluations
// so two simultaneous builds for one user cannot under-count spend.
type Limiter struct {
	limits     store.LimitsStore
	violations *ViolationLog
	log        logger.Logger
	now        func() time.Time

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
	lockOrder []string
}

// maxUserLocks bounds the per-user lock map; the oldest entry is evicted
// first, like the violation log. An evicted user simply gets a fresh
// mutex on the next call; the store's spend increment stays atomic
// either way.
const maxUserLocks = 1024

// New creates a limiter over the given limits store.
func New(limits store.LimitsStore, violations *ViolationLog, log logger.Logger) *Limiter {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Limiter{
		limits:     limits,
		violations: violations,
		log:        log,
		now:        time.Now,
		userLocks:  make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the clock, for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Limiter) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.userLocks[userID]
	if !ok {
		if len(l.userLocks) >= maxUserLocks {
			oldest := l.lockOrder[0]
			l.lockOrder = l.lockOrder[1:]
			delete(l.userLocks, oldest)
		}
		lock = &sync.Mutex{}
		l.userLocks[userID] = lock
		l.lockOrder = append(l.lockOrder, userID)
	}
	return lock
}

// Check is the dry-run evaluation used at preview time. A rejection here
// is advisory: the pipeline converts it into a preview warning because
// no funds have moved yet.
func (l *Limiter) Check(ctx context.Context, userID string, usd decimal.Decimal, counterparty string) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return l.evaluate(ctx, userID, usd, counterparty, false)
}

// CheckAndReserve is the enforcing evaluation run immediately before the
// build stage commits to a transaction. A rejection here is fatal.
func (l *Limiter) CheckAndReserve(ctx context.Context, userID string, usd decimal.Decimal, counterparty string) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return l.evaluate(ctx, userID, usd, counterparty, true)
}

func (l *Limiter) evaluate(ctx context.Context, userID string, usd decimal.Decimal, counterparty string, record bool) error {
	limits, err := l.limits.GetLimits(ctx, userID)
	if err != nil {
		return err
	}

	// The daily reset must land before the cap rule so a stale counter
	// from yesterday never blocks today's first spend.
	if limits, err = l.maybeResetDay(ctx, limits); err != nil {
		return err
	}

	if limits.HasAllowlist() && counterparty != "" && !limits.AllowlistContains(counterparty) {
		rejection := &RejectionError{
			Reason:  ReasonAllowlist,
			Message: fmt.Sprintf("counterparty %s is not on your allowlist", counterparty),
		}
		l.recordRejection(userID, rejection, record)
		return rejection
	}

	if limits.DailyUsdCap != nil {
		if limits.DailySpentUsd.Add(usd).GreaterThan(*limits.DailyUsdCap) {
			rejection := &RejectionError{
				Reason: ReasonDailyCap,
				Message: fmt.Sprintf("daily spending limit reached: %s spent + %s requested exceeds %s cap",
					limits.DailySpentUsd.StringFixed(2), usd.StringFixed(2), limits.DailyUsdCap.StringFixed(2)),
			}
			l.recordRejection(userID, rejection, record)
			return rejection
		}
	}

	if limits.MaxApprovalUsd != nil && usd.GreaterThan(*limits.MaxApprovalUsd) {
		rejection := &RejectionError{
			Reason: ReasonMaxApproval,
			Message: fmt.Sprintf("amount %s exceeds your per-transaction approval limit of %s",
				usd.StringFixed(2), limits.MaxApprovalUsd.StringFixed(2)),
		}
		l.recordRejection(userID, rejection, record)
		return rejection
	}

	return nil
}

func (l *Limiter) recordRejection(userID string, rejection *RejectionError, enforcing bool) {
	metrics.LimiterRejections.WithLabelValues(rejection.Reason).Inc()
	if l.violations != nil {
		l.violations.Record(userID, rejection.Reason, rejection.Message)
	}
	if enforcing {
		l.log.Notice("limiter blocked user %s: %s", userID, rejection.Message)
	} else {
		l.log.Debug("limiter warning for user %s: %s", userID, rejection.Message)
	}
}

// RecordSpend commits an approved spend to the user's daily counter.
// It is idempotent per intent id: retrying a build for the same intent
// never double-counts.
func (l *Limiter) RecordSpend(ctx context.Context, userID, intentID string, usd decimal.Decimal) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	applied, err := l.limits.IncrementSpent(ctx, userID, intentID, usd)
	if err != nil {
		return err
	}
	if !applied {
		l.log.Debug("spend for intent %s already recorded, skipping", intentID)
		return nil
	}

	limits, err := l.limits.GetLimits(ctx, userID)
	if err != nil {
		return err
	}
	spent, _ := limits.DailySpentUsd.Float64()
	metrics.DailySpend.WithLabelValues(userID).Set(spent)
	l.log.Info("recorded %s USD spend for user %s (daily total %s)",
		usd.StringFixed(2), userID, limits.DailySpentUsd.StringFixed(2))
	return nil
}

// maybeResetDay lazily zeroes the daily counter when the current time
// has crossed a UTC day boundary since the last reset.
func (l *Limiter) maybeResetDay(ctx context.Context, limits *models.UserLimits) (*models.UserLimits, error) {
	now := l.now().UTC()
	if sameUTCDay(limits.LastResetAt.UTC(), now) {
		return limits, nil
	}
	if err := l.limits.ResetDay(ctx, limits.UserID, now); err != nil {
		return nil, err
	}
	limits.DailySpentUsd = decimal.Zero
	limits.LastResetAt = now
	l.log.Info("daily spend counter reset for user %s", limits.UserID)
	return limits, nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
