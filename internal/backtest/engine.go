// Package backtest replays a declarative trading rule over a historical
// price series and reduces the outcome to summary metrics. One run is one
// synchronous pass: the indicator window and the broker position both carry
// state bar to bar, so there is no intra-run parallelism. Independent runs
// share nothing and may execute concurrently.
package backtest

import (
	"errors"
	"fmt"

	"neptun/internal/broker"
	"neptun/internal/domain"
	"neptun/internal/indicator"
	"neptun/internal/strategy"
)

// ErrInvalidInput marks precondition failures detected before the bar loop:
// an empty series, out-of-order or duplicate dates, a non-positive window.
var ErrInvalidInput = errors.New("backtest: invalid input")

// Simulation defaults, applied by callers (config, CLI flags) rather than
// silently inside Run.
const (
	DefaultInitialCash    = 10000.0
	DefaultCommissionRate = 0.001
)

// Params configures a single run.
type Params struct {
	Window      int
	Rule        domain.Rule
	InitialCash float64
	Commission  float64
}

// Run executes the per-bar loop over series and returns the summary result.
// Bars must be strictly ascending by timestamp. Each bar is processed in a
// fixed order: advance the indicator, snapshot equity, evaluate the rule,
// dispatch the action. The snapshot is taken before the action, so the curve
// reflects the state the decision was made in. An open position after the
// last bar is not liquidated; it contributes mark-to-market value but no
// closing trade.
func Run(series []domain.Bar, p Params) (*domain.Result, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: empty price series", ErrInvalidInput)
	}
	if p.Window <= 0 {
		return nil, fmt.Errorf("%w: sma window must be positive, got %d", ErrInvalidInput, p.Window)
	}
	for i := 1; i < len(series); i++ {
		if !series[i].Timestamp.After(series[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: series not strictly ascending at index %d (%s after %s)",
				ErrInvalidInput, i,
				series[i].Timestamp.Format("2006-01-02"),
				series[i-1].Timestamp.Format("2006-01-02"))
		}
	}

	sma := indicator.NewSMA(p.Window)
	sim := broker.NewSimulator(p.InitialCash, p.Commission)

	curve := make([]domain.EquityPoint, 0, len(series))
	var trades []domain.Trade

	for _, bar := range series {
		value, ok := sma.Update(bar.Close)

		point := domain.EquityPoint{
			Date:           bar.Timestamp,
			PortfolioValue: sim.PortfolioValue(bar.Close),
			Price:          bar.Close,
		}
		if ok {
			v := value
			point.SMA = &v
		}
		curve = append(curve, point)

		switch strategy.Evaluate(p.Rule, bar.Close, value, ok) {
		case domain.ActionBuy:
			sim.Buy(bar.Close, bar.Timestamp)
		case domain.ActionSell:
			if trade, closed := sim.Sell(bar.Close, bar.Timestamp); closed {
				trades = append(trades, trade)
			}
		}
	}

	final := sim.PortfolioValue(series[len(series)-1].Close)
	return summarize(curve, trades, p.InitialCash, final), nil
}
