package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"neptun/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ UserStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements UserStore and RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	email           TEXT    NOT NULL UNIQUE,
	hashed_password TEXT    NOT NULL,
	is_active       INTEGER NOT NULL DEFAULT 1,
	is_premium      INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id                INTEGER NOT NULL REFERENCES users(id),
	ticker                 TEXT    NOT NULL,
	start_date             TEXT    NOT NULL,
	end_date               TEXT    NOT NULL,
	sma_period             INTEGER NOT NULL,
	rule_condition         TEXT    NOT NULL,
	rule_then_action       TEXT    NOT NULL,
	rule_else_action       TEXT    NOT NULL,
	total_return           REAL    NOT NULL,
	win_rate               REAL    NOT NULL,
	number_of_trades       INTEGER NOT NULL,
	final_portfolio_value  REAL    NOT NULL,
	sharpe_ratio           REAL    NOT NULL,
	equity_curve           TEXT    NOT NULL,
	created_at             TEXT    NOT NULL,
	execution_time_seconds REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_user_created ON backtest_runs(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_ticker ON backtest_runs(ticker);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// UserStore implementation
// ---------------------------------------------------------------------------

// CreateUser inserts a new active, non-premium user.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, hashedPassword string) (*domain.User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, hashed_password, is_active, is_premium, created_at)
		 VALUES (?, ?, 1, 0, ?)`,
		email, hashedPassword, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.User{
		ID:             id,
		Email:          email,
		HashedPassword: hashedPassword,
		IsActive:       true,
		CreatedAt:      now,
	}, nil
}

// UserByEmail retrieves a user by email.
func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, hashed_password, is_active, is_premium, created_at
		 FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// UserByID retrieves a user by id.
func (s *SQLiteStore) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, hashed_password, is_active, is_premium, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// SetPremium updates the premium flag for a user.
func (s *SQLiteStore) SetPremium(ctx context.Context, id int64, premium bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_premium = ? WHERE id = ?`, premium, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.IsActive, &u.IsPremium, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

const runColumns = `id, user_id, ticker, start_date, end_date, sma_period,
	rule_condition, rule_then_action, rule_else_action,
	total_return, win_rate, number_of_trades, final_portfolio_value,
	sharpe_ratio, equity_curve, created_at, execution_time_seconds`

// SaveRun inserts a run and returns its assigned id. The equity curve is
// stored as a JSON column so history rows remain self-contained.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) (int64, error) {
	curve, err := json.Marshal(run.EquityCurve)
	if err != nil {
		return 0, fmt.Errorf("encoding equity curve: %w", err)
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO backtest_runs (
			user_id, ticker, start_date, end_date, sma_period,
			rule_condition, rule_then_action, rule_else_action,
			total_return, win_rate, number_of_trades, final_portfolio_value,
			sharpe_ratio, equity_curve, created_at, execution_time_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.UserID, run.Ticker, run.StartDate, run.EndDate, run.SMAPeriod,
		run.RuleCondition, run.RuleThenAction, run.RuleElseAction,
		run.TotalReturn, run.WinRate, run.NumberOfTrades, run.FinalPortfolioValue,
		run.SharpeRatio, string(curve), createdAt.Format(time.RFC3339), run.ExecutionSeconds)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// RunByID retrieves a single run including its equity curve.
func (s *SQLiteStore) RunByID(ctx context.Context, id int64) (*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return &runs[0], nil
}

// RunsByUser returns the newest runs for a user, up to limit.
func (s *SQLiteStore) RunsByUser(ctx context.Context, userID int64, limit int) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM backtest_runs
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// PopularTickers returns the most backtested tickers, up to limit.
func (s *SQLiteStore) PopularTickers(ctx context.Context, limit int) ([]domain.TickerCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, COUNT(*) AS cnt FROM backtest_runs
		 GROUP BY ticker ORDER BY cnt DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TickerCount
	for rows.Next() {
		var tc domain.TickerCount
		if err := rows.Scan(&tc.Ticker, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]domain.Run, error) {
	var out []domain.Run
	for rows.Next() {
		var r domain.Run
		var curve, createdAt string
		err := rows.Scan(&r.ID, &r.UserID, &r.Ticker, &r.StartDate, &r.EndDate, &r.SMAPeriod,
			&r.RuleCondition, &r.RuleThenAction, &r.RuleElseAction,
			&r.TotalReturn, &r.WinRate, &r.NumberOfTrades, &r.FinalPortfolioValue,
			&r.SharpeRatio, &curve, &createdAt, &r.ExecutionSeconds)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(curve), &r.EquityCurve); err != nil {
			return nil, fmt.Errorf("decoding equity curve for run %d: %w", r.ID, err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
