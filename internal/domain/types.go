// Package domain defines the shared types passed between the market data
// layer, the backtest engine, and the API surface.
package domain

import "time"

// Market identifies which market a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is one daily price bar. The fetcher supplies full OHLCV; the
// backtest engine reads only Timestamp and Close.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Action is what a rule tells the broker to do on a bar.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Condition compares the current close against the moving average.
// Free-form rule text is reduced to one of these at parse time.
type Condition string

const (
	CondGreater        Condition = "greater"
	CondLess           Condition = "less"
	CondGreaterOrEqual Condition = "greater_or_equal"
	CondLessOrEqual    Condition = "less_or_equal"
)

// Rule is a declarative if/then/else trading rule, parsed once per run.
type Rule struct {
	Condition Condition
	Then      Action
	Else      Action
}

// Position is an open all-in holding. Owned by the simulator; nil means flat.
type Position struct {
	EntryDate  time.Time
	EntryPrice float64
	Size       float64
	// Committed is the cash consumed to open the position, commission included.
	Committed float64
}

// Trade records one closed buy/sell round trip. PnL is gross proceeds minus
// committed cash; PnLNet additionally subtracts the exit commission.
type Trade struct {
	EntryDate time.Time `json:"entry_date"`
	ExitDate  time.Time `json:"exit_date"`
	PnL       float64   `json:"pnl"`
	PnLNet    float64   `json:"pnl_net"`
}

// EquityPoint is one sample of the equity curve, taken each bar before any
// action executes. SMA is nil while the indicator window is still filling.
type EquityPoint struct {
	Date           time.Time `json:"date"`
	PortfolioValue float64   `json:"portfolio_value"`
	Price          float64   `json:"price"`
	SMA            *float64  `json:"sma"`
}

// Result is the outcome of a single backtest run. Percentages and monetary
// summaries are rounded to two decimals; the equity curve is not.
type Result struct {
	TotalReturn         float64
	WinRate             float64
	NumberOfTrades      int
	EquityCurve         []EquityPoint
	FinalPortfolioValue float64
	SharpeRatio         float64
	Trades              []Trade
}

// User is a registered account.
type User struct {
	ID             int64
	Email          string
	HashedPassword string
	IsActive       bool
	IsPremium      bool
	CreatedAt      time.Time
}

// TickerCount is one row of the popular-tickers aggregation.
type TickerCount struct {
	Ticker string `json:"ticker"`
	Count  int    `json:"count"`
}

// Run is a persisted backtest: the request parameters plus the summary
// results. Dates are kept in their YYYY-MM-DD request form.
type Run struct {
	ID                  int64
	UserID              int64
	Ticker              string
	StartDate           string
	EndDate             string
	SMAPeriod           int
	RuleCondition       string
	RuleThenAction      string
	RuleElseAction      string
	TotalReturn         float64
	WinRate             float64
	NumberOfTrades      int
	FinalPortfolioValue float64
	SharpeRatio         float64
	EquityCurve         []EquityPoint
	CreatedAt           time.Time
	ExecutionSeconds    float64
}
