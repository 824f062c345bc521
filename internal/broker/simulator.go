// Package broker provides the simulated broker used by the backtest engine:
// a cash ledger holding at most one open all-in position.
package broker

import (
	"time"

	"neptun/internal/domain"
)

// Simulator executes full-balance market buys and sells with a proportional
// commission on both legs. Each run owns its own Simulator; there is no
// shared state. At any instant the ledger is either all cash or one open
// position, never both.
type Simulator struct {
	cash       float64
	commission float64
	pos        *domain.Position
}

// NewSimulator creates a Simulator with the given starting cash and
// commission rate (fraction of notional, e.g. 0.001).
func NewSimulator(initialCash, commissionRate float64) *Simulator {
	return &Simulator{
		cash:       initialCash,
		commission: commissionRate,
	}
}

// Buy converts the entire cash balance into a position at the given price.
// Commission is charged on entry, so size = cash × (1−commission) / price.
// A buy while a position is open is a no-op, not an error; the return value
// reports whether a position was opened.
func (s *Simulator) Buy(price float64, date time.Time) bool {
	if s.pos != nil {
		return false
	}

	committed := s.cash
	s.pos = &domain.Position{
		EntryDate:  date,
		EntryPrice: price,
		Size:       committed * (1 - s.commission) / price,
		Committed:  committed,
	}
	s.cash = 0
	return true
}

// Sell liquidates the open position at the given price, charging commission
// on the proceeds. A sell while flat is a no-op. On success it returns the
// closed Trade: PnL is gross proceeds minus the cash committed at entry,
// PnLNet the same after the exit commission.
func (s *Simulator) Sell(price float64, date time.Time) (domain.Trade, bool) {
	if s.pos == nil {
		return domain.Trade{}, false
	}

	gross := s.pos.Size * price
	trade := domain.Trade{
		EntryDate: s.pos.EntryDate,
		ExitDate:  date,
		PnL:       gross - s.pos.Committed,
		PnLNet:    gross*(1-s.commission) - s.pos.Committed,
	}

	s.cash = gross * (1 - s.commission)
	s.pos = nil
	return trade, true
}

// PortfolioValue returns the mark-to-market value at the given price: the
// position's current worth when holding, the cash balance when flat. A buy
// consumes all cash, so there is never unspent cash alongside a position.
func (s *Simulator) PortfolioValue(price float64) float64 {
	if s.pos != nil {
		return s.pos.Size * price
	}
	return s.cash
}

// Holding reports whether a position is open.
func (s *Simulator) Holding() bool {
	return s.pos != nil
}
