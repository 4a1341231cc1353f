package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wallethub-hq/intentrunner/pkg/models"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStatusConflict indicates a compare-and-swap status update found
	// the record in a different status than expected. This is the
	// single-writer guarantee the pipeline relies on.
	ErrStatusConflict = errors.New("status conflict")
)

// PersistenceError wraps infrastructure failures from a backing store.
// It is deliberately distinct from business errors: a failed status
// write after a successful side effect leaves the system ambiguous and
// must be surfaced loudly, never folded into a pipeline failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err is an infrastructure failure.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ContextPatch carries the optional fields merged into an execution
// context alongside a status transition.
type ContextPatch struct {
	Quote       *models.Quote
	Preview     *models.Preview
	Transaction *models.BuiltTransaction
	Error       *string
	ExecutedAt  *time.Time
}

// IntentStore persists execution contexts and broadcast outcomes.
type IntentStore interface {
	// Create stores a new context; the id must be unused.
	Create(ctx context.Context, ectx *models.ExecutionContext) error

	// FindByID loads a context or returns ErrNotFound.
	FindByID(ctx context.Context, intentID string) (*models.ExecutionContext, error)

	// UpdateStatus transitions the context from the expected status to
	// the new one, applying the patch atomically. Returns
	// ErrStatusConflict when the current status does not match.
	UpdateStatus(ctx context.Context, intentID string, from, to models.Status, patch *ContextPatch) error

	// RecordTransactionStatus persists a broadcast outcome reported by
	// the external monitor. It is a reporting sink, independent of the
	// pipeline status machine.
	RecordTransactionStatus(ctx context.Context, transactionID, status string) error
}

// LimitsStore persists per-user spend policy and counters.
type LimitsStore interface {
	// GetLimits returns the limits for a user, or a zero-value record
	// (no cap, no allowlist) when none are configured.
	GetLimits(ctx context.Context, userID string) (*models.UserLimits, error)

	// SetLimits replaces a user's policy fields, preserving counters.
	SetLimits(ctx context.Context, limits *models.UserLimits) error

	// IncrementSpent atomically adds usd to the user's daily counter,
	// keyed by intentID for idempotency. Returns false when the intent
	// was already recorded and the counter is unchanged.
	IncrementSpent(ctx context.Context, userID, intentID string, usd decimal.Decimal) (bool, error)

	// ResetDay zeroes the daily counter and stamps the reset time.
	ResetDay(ctx context.Context, userID string, at time.Time) error
}
