// Package report renders backtest results as text for the CLI and TUI.
package report

import (
	"fmt"
	"strings"

	"neptun/internal/domain"
)

const dateFormat = "2006-01-02"

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}

// FormatMoney formats a dollar amount as $X,XXX.XX.
func FormatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := int(v)
	cents := int((v-float64(whole))*100 + 0.5)
	if cents == 100 {
		whole++
		cents = 0
	}
	return fmt.Sprintf("%s$%s.%02d", sign, FormatInt(whole), cents)
}

// FormatSignedPct formats a percentage with an explicit sign, e.g. "+18.06%".
func FormatSignedPct(v float64) string {
	if v > 0 {
		return fmt.Sprintf("+%.2f%%", v)
	}
	return fmt.Sprintf("%.2f%%", v)
}

// Sparkline renders values as a fixed-width run of block runes. Width values
// below one collapse to the empty string; a flat series renders mid-height.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width < 1 {
		return ""
	}

	// Resample to width buckets by picking the bucket's last value.
	sampled := make([]float64, 0, width)
	if len(values) <= width {
		sampled = append(sampled, values...)
	} else {
		for i := 0; i < width; i++ {
			idx := (i+1)*len(values)/width - 1
			sampled = append(sampled, values[idx])
		}
	}

	lo, hi := sampled[0], sampled[0]
	for _, v := range sampled {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	var b strings.Builder
	for _, v := range sampled {
		idx := len(sparkRunes) / 2
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

// Summary renders a multi-line result report for one ticker.
func Summary(ticker string, res *domain.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", ticker)
	fmt.Fprintf(&b, "  total return   %s\n", FormatSignedPct(res.TotalReturn))
	fmt.Fprintf(&b, "  final value    %s\n", FormatMoney(res.FinalPortfolioValue))
	fmt.Fprintf(&b, "  trades         %s (win rate %.2f%%)\n", FormatInt(res.NumberOfTrades), res.WinRate)
	fmt.Fprintf(&b, "  sharpe ratio   %.2f\n", res.SharpeRatio)
	if len(res.EquityCurve) > 1 {
		values := make([]float64, len(res.EquityCurve))
		for i, p := range res.EquityCurve {
			values[i] = p.PortfolioValue
		}
		fmt.Fprintf(&b, "  equity         %s\n", Sparkline(values, 40))
	}
	return b.String()
}

// TradeLines renders one line per closed trade.
func TradeLines(trades []domain.Trade) []string {
	out := make([]string, 0, len(trades))
	for i, tr := range trades {
		out = append(out, fmt.Sprintf("#%d  %s → %s  pnl %s  net %s",
			i+1,
			tr.EntryDate.Format(dateFormat),
			tr.ExitDate.Format(dateFormat),
			FormatMoney(tr.PnL),
			FormatMoney(tr.PnLNet),
		))
	}
	return out
}
