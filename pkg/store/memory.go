package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wallethub-hq/intentrunner/pkg/models"
)

// MemoryStore is an in-memory IntentStore and LimitsStore used for tests
// and single-process deployments. Status transitions are checked under
// one mutex, which gives the same compare-and-swap guarantee the sqlite
// store gets from conditional updates.
type MemoryStore struct {
	mu       sync.Mutex
	intents  map[string]*models.ExecutionContext
	txStatus map[string]string
	limits   map[string]*models.UserLimits
	spends   map[string]decimal.Decimal // intentID -> recorded usd
	now      func() time.Time
}

var (
	_ IntentStore = (*MemoryStore)(nil)
	_ LimitsStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents:  make(map[string]*models.ExecutionContext),
		txStatus: make(map[string]string),
		limits:   make(map[string]*models.UserLimits),
		spends:   make(map[string]decimal.Decimal),
		now:      time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Create(_ context.Context, ectx *models.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.intents[ectx.IntentID]; exists {
		return fmt.Errorf("intent %s already exists", ectx.IntentID)
	}
	stored := ectx.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.intents[ectx.IntentID] = stored
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, intentID string) (*models.ExecutionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ectx, ok := s.intents[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return ectx.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, intentID string, from, to models.Status, patch *ContextPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ectx, ok := s.intents[intentID]
	if !ok {
		return ErrNotFound
	}
	if ectx.Status != from {
		return fmt.Errorf("intent %s is %s, expected %s: %w", intentID, ectx.Status, from, ErrStatusConflict)
	}

	ectx.Status = to
	ectx.UpdatedAt = s.now()
	applyPatch(ectx, patch)
	return nil
}

func applyPatch(ectx *models.ExecutionContext, patch *ContextPatch) {
	if patch == nil {
		return
	}
	if patch.Quote != nil {
		ectx.Quote = patch.Quote
	}
	if patch.Preview != nil {
		ectx.Preview = patch.Preview
	}
	if patch.Transaction != nil {
		ectx.Transaction = patch.Transaction
	}
	if patch.Error != nil {
		ectx.Error = *patch.Error
	}
	if patch.ExecutedAt != nil {
		ectx.ExecutedAt = patch.ExecutedAt
	}
}

func (s *MemoryStore) RecordTransactionStatus(_ context.Context, transactionID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txStatus[transactionID] = status
	return nil
}

// TransactionStatus returns the last reported broadcast status, for tests.
func (s *MemoryStore) TransactionStatus(transactionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.txStatus[transactionID]
	return status, ok
}

func (s *MemoryStore) GetLimits(_ context.Context, userID string) (*models.UserLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limits, ok := s.limits[userID]
	if !ok {
		return &models.UserLimits{UserID: userID, LastResetAt: s.now()}, nil
	}
	clone := *limits
	clone.Allowlist = append([]string(nil), limits.Allowlist...)
	return &clone, nil
}

func (s *MemoryStore) SetLimits(_ context.Context, limits *models.UserLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *limits
	clone.Allowlist = append([]string(nil), limits.Allowlist...)
	if existing, ok := s.limits[limits.UserID]; ok {
		clone.DailySpentUsd = existing.DailySpentUsd
		clone.LastResetAt = existing.LastResetAt
	} else if clone.LastResetAt.IsZero() {
		clone.LastResetAt = s.now()
	}
	s.limits[limits.UserID] = &clone
	return nil
}

func (s *MemoryStore) IncrementSpent(_ context.Context, userID, intentID string, usd decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.spends[intentID]; seen {
		return false, nil
	}
	s.spends[intentID] = usd

	limits, ok := s.limits[userID]
	if !ok {
		limits = &models.UserLimits{UserID: userID, LastResetAt: s.now()}
		s.limits[userID] = limits
	}
	limits.DailySpentUsd = limits.DailySpentUsd.Add(usd)
	return true, nil
}

func (s *MemoryStore) ResetDay(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	limits, ok := s.limits[userID]
	if !ok {
		limits = &models.UserLimits{UserID: userID}
		s.limits[userID] = limits
	}
	limits.DailySpentUsd = decimal.Zero
	limits.LastResetAt = at
	return nil
}
