package backtest

import (
	"math"

	"neptun/internal/domain"
)

// summarize reduces the equity curve and closed trades to the summary
// metrics. Degenerate inputs take defined fallbacks rather than failing:
// zero trades means a zero win rate, zero return variance a zero Sharpe
// ratio. Summary figures are rounded to two decimals; the curve is not.
func summarize(curve []domain.EquityPoint, trades []domain.Trade, initialCash, finalValue float64) *domain.Result {
	totalReturn := (finalValue - initialCash) / initialCash * 100

	winRate := 0.0
	if len(trades) > 0 {
		wins := 0
		for _, tr := range trades {
			if tr.PnL > 0 {
				wins++
			}
		}
		winRate = float64(wins) / float64(len(trades)) * 100
	}

	return &domain.Result{
		TotalReturn:         round2(totalReturn),
		WinRate:             round2(winRate),
		NumberOfTrades:      len(trades),
		EquityCurve:         curve,
		FinalPortfolioValue: round2(finalValue),
		SharpeRatio:         round2(sharpe(curve)),
		Trades:              trades,
	}
}

// sharpe computes mean/volatility of per-bar simple returns taken from
// consecutive equity-curve values, annualized by √252 for daily bars.
// Volatility is the population standard deviation. Fewer than two points or
// zero variance yields zero, as does any non-finite intermediate.
func sharpe(curve []domain.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].PortfolioValue
		returns = append(returns, (curve[i].PortfolioValue-prev)/prev)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	if variance == 0 {
		return 0
	}

	s := mean / math.Sqrt(variance) * math.Sqrt(252)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
