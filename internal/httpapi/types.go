// Package httpapi serves the backtesting REST API: account registration and
// login, authenticated backtest runs persisted per user, run history and
// popular-ticker analytics, all as JSON.
package httpapi

import (
	"time"

	"neptun/internal/domain"
)

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest authenticates an existing account.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a freshly issued bearer token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
}

// ProfileResponse describes the authenticated user.
type ProfileResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	IsPremium bool   `json:"is_premium"`
	CreatedAt string `json:"created_at"`
}

// RuleJSON is the wire form of a trading rule. Empty fields fall back to
// "price > sma" / "buy" / "hold".
type RuleJSON struct {
	IfCondition string `json:"if_condition"`
	ThenAction  string `json:"then_action"`
	ElseAction  string `json:"else_action"`
}

// BacktestRequest configures a single backtest run.
type BacktestRequest struct {
	Ticker    string   `json:"ticker"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	SMAPeriod int      `json:"sma_period"`
	Rule      RuleJSON `json:"rule"`
}

// EquityPointJSON is one bar of the equity curve. SMA is null while the
// indicator window is still filling.
type EquityPointJSON struct {
	Date           string   `json:"date"`
	PortfolioValue float64  `json:"portfolio_value"`
	Price          float64  `json:"price"`
	SMA            *float64 `json:"sma"`
}

// BacktestResponse carries the result metrics and the full equity curve.
// BacktestID is null for unsaved runs.
type BacktestResponse struct {
	TotalReturn         float64           `json:"total_return"`
	WinRate             float64           `json:"win_rate"`
	NumberOfTrades      int               `json:"number_of_trades"`
	EquityCurve         []EquityPointJSON `json:"equity_curve"`
	FinalPortfolioValue float64           `json:"final_portfolio_value"`
	SharpeRatio         float64           `json:"sharpe_ratio"`
	BacktestID          *int64            `json:"backtest_id"`
}

// RunDetailResponse is a fully stored run: the request parameters, the
// result metrics and the complete equity curve.
type RunDetailResponse struct {
	ID                  int64             `json:"id"`
	Ticker              string            `json:"ticker"`
	StartDate           string            `json:"start_date"`
	EndDate             string            `json:"end_date"`
	SMAPeriod           int               `json:"sma_period"`
	Rule                RuleJSON          `json:"rule"`
	TotalReturn         float64           `json:"total_return"`
	WinRate             float64           `json:"win_rate"`
	NumberOfTrades      int               `json:"number_of_trades"`
	FinalPortfolioValue float64           `json:"final_portfolio_value"`
	SharpeRatio         float64           `json:"sharpe_ratio"`
	EquityCurve         []EquityPointJSON `json:"equity_curve"`
	CreatedAt           string            `json:"created_at"`
	ExecutionSeconds    float64           `json:"execution_seconds"`
}

// HistoryItem is one row of a user's backtest history. The equity curve is
// deliberately omitted; fetch the run itself for the full picture.
type HistoryItem struct {
	ID             int64   `json:"id"`
	Ticker         string  `json:"ticker"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	TotalReturn    float64 `json:"total_return"`
	WinRate        float64 `json:"win_rate"`
	NumberOfTrades int     `json:"number_of_trades"`
	CreatedAt      string  `json:"created_at"`
}

// HistoryResponse lists a user's most recent backtests.
type HistoryResponse struct {
	Backtests []HistoryItem `json:"backtests"`
}

// PopularTickerJSON is one row of the popular-tickers aggregation.
type PopularTickerJSON struct {
	Ticker string `json:"ticker"`
	Count  int    `json:"count"`
}

// PopularTickersResponse ranks tickers by how often they were backtested.
type PopularTickersResponse struct {
	PopularTickers []PopularTickerJSON `json:"popular_tickers"`
}

// PaymentIntentRequest initiates a premium upgrade. Amount is in cents.
type PaymentIntentRequest struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

// PaymentIntentResponse mirrors the payment provider's intent shape.
type PaymentIntentResponse struct {
	ClientSecret    string `json:"client_secret"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int    `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
}

// RootResponse identifies the service.
type RootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// convertEquityCurve converts domain equity points to their wire form.
func convertEquityCurve(points []domain.EquityPoint) []EquityPointJSON {
	out := make([]EquityPointJSON, 0, len(points))
	for _, p := range points {
		out = append(out, EquityPointJSON{
			Date:           p.Date.Format(dateFormat),
			PortfolioValue: p.PortfolioValue,
			Price:          p.Price,
			SMA:            p.SMA,
		})
	}
	return out
}

// convertResult converts an engine result to the wire response.
func convertResult(res *domain.Result) BacktestResponse {
	return BacktestResponse{
		TotalReturn:         res.TotalReturn,
		WinRate:             res.WinRate,
		NumberOfTrades:      res.NumberOfTrades,
		EquityCurve:         convertEquityCurve(res.EquityCurve),
		FinalPortfolioValue: res.FinalPortfolioValue,
		SharpeRatio:         res.SharpeRatio,
	}
}

// convertRunDetail converts a stored run to its wire form.
func convertRunDetail(run *domain.Run) RunDetailResponse {
	return RunDetailResponse{
		ID:        run.ID,
		Ticker:    run.Ticker,
		StartDate: run.StartDate,
		EndDate:   run.EndDate,
		SMAPeriod: run.SMAPeriod,
		Rule: RuleJSON{
			IfCondition: run.RuleCondition,
			ThenAction:  run.RuleThenAction,
			ElseAction:  run.RuleElseAction,
		},
		TotalReturn:         run.TotalReturn,
		WinRate:             run.WinRate,
		NumberOfTrades:      run.NumberOfTrades,
		FinalPortfolioValue: run.FinalPortfolioValue,
		SharpeRatio:         run.SharpeRatio,
		EquityCurve:         convertEquityCurve(run.EquityCurve),
		CreatedAt:           run.CreatedAt.UTC().Format(time.RFC3339),
		ExecutionSeconds:    run.ExecutionSeconds,
	}
}

// convertHistory converts stored runs to history rows.
func convertHistory(runs []domain.Run) []HistoryItem {
	out := make([]HistoryItem, 0, len(runs))
	for _, run := range runs {
		out = append(out, HistoryItem{
			ID:             run.ID,
			Ticker:         run.Ticker,
			StartDate:      run.StartDate,
			EndDate:        run.EndDate,
			TotalReturn:    run.TotalReturn,
			WinRate:        run.WinRate,
			NumberOfTrades: run.NumberOfTrades,
			CreatedAt:      run.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
