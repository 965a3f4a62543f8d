package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS strategies (
    id            TEXT PRIMARY KEY,
    account       TEXT    NOT NULL,
    name          TEXT    NOT NULL,
    slug_template TEXT    NOT NULL,
    interval_sec  INTEGER NOT NULL,
    window_start  INTEGER NOT NULL,
    window_end    INTEGER NOT NULL,
    min_price     REAL    NOT NULL,
    max_price     REAL    NOT NULL,
    amount_mode   TEXT    NOT NULL,
    amount_value  REAL    NOT NULL,
    spread_mode   TEXT    NOT NULL DEFAULT 'NONE',
    spread_value  REAL    NOT NULL DEFAULT 0,
    symbol        TEXT    NOT NULL DEFAULT '',
    enabled       INTEGER NOT NULL DEFAULT 1,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS triggers (
    id            TEXT PRIMARY KEY,
    strategy_id   TEXT    NOT NULL,
    period_start  INTEGER NOT NULL,
    market_title  TEXT    NOT NULL DEFAULT '',
    outcome_index INTEGER NOT NULL,
    price         REAL    NOT NULL,
    amount_usdc   REAL    NOT NULL,
    order_id      TEXT    NOT NULL DEFAULT '',
    status        TEXT    NOT NULL,
    fail_reason   TEXT    NOT NULL DEFAULT '',
    condition_id  TEXT    NOT NULL DEFAULT '',
    resolved      INTEGER NOT NULL DEFAULT 0,
    winner_index  INTEGER NOT NULL DEFAULT 0,
    realized_pnl  REAL    NOT NULL DEFAULT 0,
    settled_at    DATETIME,
    created_at    DATETIME NOT NULL,
    UNIQUE(strategy_id, period_start)
);

CREATE INDEX IF NOT EXISTS idx_triggers_unresolved ON triggers(resolved, status);
CREATE INDEX IF NOT EXISTS idx_triggers_created    ON triggers(created_at DESC);
`

// Resolved triggers older than this are pruned on startup.
const triggerRetention = 30 * 24 * time.Hour

// SQLiteStore implements StrategyStore and TriggerStore on a single
// SQLite file. The process is the only writer.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path, applies the
// schema and prunes old resolved triggers.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	s.pruneOld(context.Background())
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-triggerRetention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM triggers WHERE resolved = 1 AND created_at < ?`, cutoff)
	if err != nil {
		s.logger.Warn("trigger prune failed", zap.Error(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("pruned old resolved triggers", zap.Int64("rows", n))
	}
}

// EnabledStrategies returns all enabled strategies ordered by name.
func (s *SQLiteStore) EnabledStrategies(ctx context.Context) ([]Strategy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, name, slug_template, interval_sec, window_start, window_end,
		       min_price, max_price, amount_mode, amount_value, spread_mode, spread_value,
		       symbol, enabled, created_at, updated_at
		FROM strategies WHERE enabled = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: query strategies: %w", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		var st Strategy
		if err := rows.Scan(&st.ID, &st.Account, &st.Name, &st.SlugTemplate,
			&st.IntervalSeconds, &st.WindowStartSeconds, &st.WindowEndSeconds,
			&st.MinPrice, &st.MaxPrice, &st.AmountMode, &st.AmountValue,
			&st.SpreadMode, &st.SpreadValue, &st.Symbol, &st.Enabled,
			&st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan strategy: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ReplaceStrategies swaps the strategy table wholesale inside one
// transaction. Used by the config load/reload path.
func (s *SQLiteStore) ReplaceStrategies(ctx context.Context, strategies []Strategy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM strategies`); err != nil {
		return fmt.Errorf("store: clear strategies: %w", err)
	}
	now := time.Now().UTC()
	for _, st := range strategies {
		created := st.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO strategies
			  (id, account, name, slug_template, interval_sec, window_start, window_end,
			   min_price, max_price, amount_mode, amount_value, spread_mode, spread_value,
			   symbol, enabled, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			st.ID, st.Account, st.Name, st.SlugTemplate,
			st.IntervalSeconds, st.WindowStartSeconds, st.WindowEndSeconds,
			st.MinPrice, st.MaxPrice, string(st.AmountMode), st.AmountValue,
			string(st.SpreadMode), st.SpreadValue, st.Symbol, st.Enabled, created, now); err != nil {
			return fmt.Errorf("store: insert strategy %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// InsertTrigger writes a new trigger row. Returns ErrDuplicateTrigger if a
// row already exists for the same (strategy_id, period_start).
func (s *SQLiteStore) InsertTrigger(ctx context.Context, t *Trigger) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
		t.CreatedAt = created
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers
		  (id, strategy_id, period_start, market_title, outcome_index, price,
		   amount_usdc, order_id, status, fail_reason, condition_id, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(strategy_id, period_start) DO NOTHING`,
		t.ID, t.StrategyID, t.PeriodStart, t.MarketTitle, t.OutcomeIndex, t.Price,
		t.AmountUSDC, t.OrderID, string(t.Status), t.FailReason, t.ConditionID, created)
	if err != nil {
		return fmt.Errorf("store: insert trigger: %w", err)
	}
	// ON CONFLICT DO NOTHING swallows the duplicate; re-check so callers
	// can distinguish an insert from a no-op.
	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM triggers WHERE strategy_id = ? AND period_start = ?`,
		t.StrategyID, t.PeriodStart).Scan(&id)
	if err != nil {
		return fmt.Errorf("store: verify trigger insert: %w", err)
	}
	if id != t.ID {
		return ErrDuplicateTrigger
	}
	return nil
}

// TriggerExists reports whether a trigger row exists for the cycle key.
func (s *SQLiteStore) TriggerExists(ctx context.Context, strategyID string, periodStart int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM triggers WHERE strategy_id = ? AND period_start = ?`,
		strategyID, periodStart).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: trigger exists: %w", err)
	}
	return n > 0, nil
}

// UnresolvedTriggers returns successful triggers not yet settled, oldest first.
func (s *SQLiteStore) UnresolvedTriggers(ctx context.Context) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_id, period_start, market_title, outcome_index, price,
		       amount_usdc, order_id, status, fail_reason, condition_id,
		       resolved, winner_index, realized_pnl, created_at
		FROM triggers
		WHERE status = ? AND resolved = 0
		ORDER BY created_at`, string(TriggerSuccess))
	if err != nil {
		return nil, fmt.Errorf("store: query unresolved: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.PeriodStart, &t.MarketTitle,
			&t.OutcomeIndex, &t.Price, &t.AmountUSDC, &t.OrderID, &t.Status,
			&t.FailReason, &t.ConditionID, &t.Resolved, &t.WinnerIndex,
			&t.RealizedPnL, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetConditionID caches a resolved condition ID onto the trigger so later
// sweeps skip the metadata lookup.
func (s *SQLiteStore) SetConditionID(ctx context.Context, triggerID, conditionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET condition_id = ? WHERE id = ? AND condition_id = ''`,
		conditionID, triggerID)
	if err != nil {
		return fmt.Errorf("store: set condition id: %w", err)
	}
	return nil
}

// ResolveTrigger writes the resolution fields once. Returns false when the
// trigger was already resolved (the update is a no-op).
func (s *SQLiteStore) ResolveTrigger(ctx context.Context, triggerID string, winnerIndex int, realizedPnL float64, settledAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE triggers
		SET resolved = 1, winner_index = ?, realized_pnl = ?, settled_at = ?
		WHERE id = ? AND resolved = 0`,
		winnerIndex, realizedPnL, settledAt.UTC(), triggerID)
	if err != nil {
		return false, fmt.Errorf("store: resolve trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: resolve trigger rows: %w", err)
	}
	return n > 0, nil
}
