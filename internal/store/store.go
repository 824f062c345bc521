// Package store defines storage interfaces for persisting and retrieving
// domain objects: daily bars in Parquet, users and backtest runs in SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"neptun/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, bars []domain.Bar, market domain.Market) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// UserStore persists and retrieves user accounts.
type UserStore interface {
	// CreateUser inserts a new active, non-premium user.
	CreateUser(ctx context.Context, email, hashedPassword string) (*domain.User, error)

	// UserByEmail retrieves a user by email. Returns ErrNotFound when absent.
	UserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UserByID retrieves a user by id. Returns ErrNotFound when absent.
	UserByID(ctx context.Context, id int64) (*domain.User, error)

	// SetPremium updates the premium flag for a user.
	SetPremium(ctx context.Context, id int64, premium bool) error
}

// RunStore persists and retrieves backtest runs.
type RunStore interface {
	// SaveRun inserts a run and returns its assigned id.
	SaveRun(ctx context.Context, run *domain.Run) (int64, error)

	// RunByID retrieves a single run including its equity curve. Returns
	// ErrNotFound when absent.
	RunByID(ctx context.Context, id int64) (*domain.Run, error)

	// RunsByUser returns the newest runs for a user, up to limit.
	RunsByUser(ctx context.Context, userID int64, limit int) ([]domain.Run, error)

	// PopularTickers returns the most backtested tickers, up to limit.
	PopularTickers(ctx context.Context, limit int) ([]domain.TickerCount, error)
}
