package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wallethub-hq/intentrunner/pkg/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable IntentStore and LimitsStore backed by sqlite.
// Status transitions run inside immediate transactions with a status
// guard, which gives the compare-and-swap guarantee the pipeline needs;
// spend increments piggyback on a dedupe table keyed by intent id.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ IntentStore = (*SQLiteStore)(nil)
	_ LimitsStore = (*SQLiteStore)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS intents (
  id           TEXT PRIMARY KEY,
  user_id      TEXT NOT NULL,
  status       TEXT NOT NULL,
  context_json TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_intents_user ON intents(user_id);

CREATE TABLE IF NOT EXISTS transaction_status (
  transaction_id TEXT PRIMARY KEY,
  status         TEXT NOT NULL,
  updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_limits (
  user_id        TEXT PRIMARY KEY,
  daily_cap      TEXT,
  max_approval   TEXT,
  allowlist_json TEXT NOT NULL DEFAULT '[]',
  daily_spent    TEXT NOT NULL DEFAULT '0',
  last_reset_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS intent_spends (
  intent_id   TEXT PRIMARY KEY,
  user_id     TEXT NOT NULL,
  usd         TEXT NOT NULL,
  recorded_at TEXT NOT NULL
);
`

// OpenSQLite opens (and if necessary creates) the database at path.
// WAL and a busy timeout are set through DSN pragmas so they apply to
// every pooled connection.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "migrate", Err: err}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, ectx *models.ExecutionContext) error {
	stored := ectx.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt

	payload, err := json.Marshal(stored)
	if err != nil {
		return &PersistenceError{Op: "create", Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intents (id, user_id, status, context_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		stored.IntentID, stored.UserID, string(stored.Status), string(payload),
		stored.CreatedAt.UTC().Format(time.RFC3339Nano),
		stored.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("intent %s already exists", stored.IntentID)
		}
		return &PersistenceError{Op: "create", Err: err}
	}
	return nil
}

func (s *SQLiteStore) FindByID(ctx context.Context, intentID string) (*models.ExecutionContext, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT context_json FROM intents WHERE id = ?`, intentID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "find", Err: err}
	}

	var ectx models.ExecutionContext
	if err := json.Unmarshal([]byte(payload), &ectx); err != nil {
		return nil, &PersistenceError{Op: "find", Err: err}
	}
	return &ectx, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, intentID string, from, to models.Status, patch *ContextPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "update_status", Err: err}
	}
	defer tx.Rollback()

	var payload, status string
	err = tx.QueryRowContext(ctx,
		`SELECT status, context_json FROM intents WHERE id = ?`, intentID).Scan(&status, &payload)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return &PersistenceError{Op: "update_status", Err: err}
	}
	if models.Status(status) != from {
		return fmt.Errorf("intent %s is %s, expected %s: %w", intentID, status, from, ErrStatusConflict)
	}

	var ectx models.ExecutionContext
	if err := json.Unmarshal([]byte(payload), &ectx); err != nil {
		return &PersistenceError{Op: "update_status", Err: err}
	}
	ectx.Status = to
	ectx.UpdatedAt = s.now()
	applyPatch(&ectx, patch)

	updated, err := json.Marshal(&ectx)
	if err != nil {
		return &PersistenceError{Op: "update_status", Err: err}
	}

	// The status guard in the WHERE clause makes the swap conditional
	// even if another writer slipped in between the read and this write.
	res, err := tx.ExecContext(ctx, `
		UPDATE intents SET status = ?, context_json = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), string(updated), ectx.UpdatedAt.UTC().Format(time.RFC3339Nano),
		intentID, string(from),
	)
	if err != nil {
		return &PersistenceError{Op: "update_status", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "update_status", Err: err}
	}
	if affected == 0 {
		return fmt.Errorf("intent %s changed status concurrently: %w", intentID, ErrStatusConflict)
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "update_status", Err: err}
	}
	return nil
}

func (s *SQLiteStore) RecordTransactionStatus(ctx context.Context, transactionID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_status (transaction_id, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		transactionID, status, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &PersistenceError{Op: "record_tx_status", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetLimits(ctx context.Context, userID string) (*models.UserLimits, error) {
	var (
		dailyCap      sql.NullString
		maxApproval   sql.NullString
		allowlistJSON string
		dailySpent    string
		lastResetAt   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_cap, max_approval, allowlist_json, daily_spent, last_reset_at
		FROM user_limits WHERE user_id = ?`, userID).
		Scan(&dailyCap, &maxApproval, &allowlistJSON, &dailySpent, &lastResetAt)
	if err == sql.ErrNoRows {
		return &models.UserLimits{UserID: userID, LastResetAt: s.now()}, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get_limits", Err: err}
	}

	limits := &models.UserLimits{UserID: userID}
	if dailyCap.Valid {
		cap, err := decimal.NewFromString(dailyCap.String)
		if err != nil {
			return nil, &PersistenceError{Op: "get_limits", Err: err}
		}
		limits.DailyUsdCap = &cap
	}
	if maxApproval.Valid {
		max, err := decimal.NewFromString(maxApproval.String)
		if err != nil {
			return nil, &PersistenceError{Op: "get_limits", Err: err}
		}
		limits.MaxApprovalUsd = &max
	}
	if err := json.Unmarshal([]byte(allowlistJSON), &limits.Allowlist); err != nil {
		return nil, &PersistenceError{Op: "get_limits", Err: err}
	}
	spent, err := decimal.NewFromString(dailySpent)
	if err != nil {
		return nil, &PersistenceError{Op: "get_limits", Err: err}
	}
	limits.DailySpentUsd = spent
	reset, err := time.Parse(time.RFC3339Nano, lastResetAt)
	if err != nil {
		return nil, &PersistenceError{Op: "get_limits", Err: err}
	}
	limits.LastResetAt = reset
	return limits, nil
}

func (s *SQLiteStore) SetLimits(ctx context.Context, limits *models.UserLimits) error {
	allowlistJSON, err := json.Marshal(limits.Allowlist)
	if err != nil {
		return &PersistenceError{Op: "set_limits", Err: err}
	}
	var dailyCap, maxApproval any
	if limits.DailyUsdCap != nil {
		dailyCap = limits.DailyUsdCap.String()
	}
	if limits.MaxApprovalUsd != nil {
		maxApproval = limits.MaxApprovalUsd.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_limits (user_id, daily_cap, max_approval, allowlist_json, daily_spent, last_reset_at)
		VALUES (?, ?, ?, ?, '0', ?)
		ON CONFLICT(user_id) DO UPDATE SET
		  daily_cap = excluded.daily_cap,
		  max_approval = excluded.max_approval,
		  allowlist_json = excluded.allowlist_json`,
		limits.UserID, dailyCap, maxApproval, string(allowlistJSON),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &PersistenceError{Op: "set_limits", Err: err}
	}
	return nil
}

func (s *SQLiteStore) IncrementSpent(ctx context.Context, userID, intentID string, usd decimal.Decimal) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &PersistenceError{Op: "increment_spent", Err: err}
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)

	// Dedupe row first; a prior record means this intent's spend has
	// already been counted and the counter must not move again.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO intent_spends (intent_id, user_id, usd, recorded_at)
		VALUES (?, ?, ?, ?)`,
		intentID, userID, usd.String(), now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, &PersistenceError{Op: "increment_spent", Err: err}
	}

	var dailySpent string
	err = tx.QueryRowContext(ctx,
		`SELECT daily_spent FROM user_limits WHERE user_id = ?`, userID).Scan(&dailySpent)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_limits (user_id, daily_spent, last_reset_at) VALUES (?, ?, ?)`,
			userID, usd.String(), now); err != nil {
			return false, &PersistenceError{Op: "increment_spent", Err: err}
		}
		if err := tx.Commit(); err != nil {
			return false, &PersistenceError{Op: "increment_spent", Err: err}
		}
		return true, nil
	}
	if err != nil {
		return false, &PersistenceError{Op: "increment_spent", Err: err}
	}

	spent, err := decimal.NewFromString(dailySpent)
	if err != nil {
		return false, &PersistenceError{Op: "increment_spent", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_limits SET daily_spent = ? WHERE user_id = ?`,
		spent.Add(usd).String(), userID); err != nil {
		return false, &PersistenceError{Op: "increment_spent", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return false, &PersistenceError{Op: "increment_spent", Err: err}
	}
	return true, nil
}

func (s *SQLiteStore) ResetDay(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_limits (user_id, daily_spent, last_reset_at)
		VALUES (?, '0', ?)
		ON CONFLICT(user_id) DO UPDATE SET daily_spent = '0', last_reset_at = excluded.last_reset_at`,
		userID, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &PersistenceError{Op: "reset_day", Err: err}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
