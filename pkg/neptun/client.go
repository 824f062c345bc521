// Package neptun provides a typed Go client for the neptun backtesting API.
package neptun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to a neptun API server. Register and Login store the issued
// token on the client; calls made after that are authenticated. Set the
// token before sharing a Client across goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken replaces the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// Token returns the current bearer token, empty when unauthenticated.
func (c *Client) Token() string { return c.token }

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Rule is the wire form of a trading rule.
type Rule struct {
	IfCondition string `json:"if_condition"`
	ThenAction  string `json:"then_action"`
	ElseAction  string `json:"else_action"`
}

// BacktestRequest configures a backtest run.
type BacktestRequest struct {
	Ticker    string `json:"ticker"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	SMAPeriod int    `json:"sma_period"`
	Rule      Rule   `json:"rule"`
}

// EquityPoint is one bar of the returned equity curve.
type EquityPoint struct {
	Date           string   `json:"date"`
	PortfolioValue float64  `json:"portfolio_value"`
	Price          float64  `json:"price"`
	SMA            *float64 `json:"sma"`
}

// BacktestResult is the outcome of a backtest run. BacktestID is nil for
// runs that were not persisted.
type BacktestResult struct {
	TotalReturn         float64       `json:"total_return"`
	WinRate             float64       `json:"win_rate"`
	NumberOfTrades      int           `json:"number_of_trades"`
	EquityCurve         []EquityPoint `json:"equity_curve"`
	FinalPortfolioValue float64       `json:"final_portfolio_value"`
	SharpeRatio         float64       `json:"sharpe_ratio"`
	BacktestID          *int64        `json:"backtest_id"`
}

// RunDetail is a stored backtest run with its full equity curve.
type RunDetail struct {
	ID                  int64         `json:"id"`
	Ticker              string        `json:"ticker"`
	StartDate           string        `json:"start_date"`
	EndDate             string        `json:"end_date"`
	SMAPeriod           int           `json:"sma_period"`
	Rule                Rule          `json:"rule"`
	TotalReturn         float64       `json:"total_return"`
	WinRate             float64       `json:"win_rate"`
	NumberOfTrades      int           `json:"number_of_trades"`
	FinalPortfolioValue float64       `json:"final_portfolio_value"`
	SharpeRatio         float64       `json:"sharpe_ratio"`
	EquityCurve         []EquityPoint `json:"equity_curve"`
	CreatedAt           string        `json:"created_at"`
	ExecutionSeconds    float64       `json:"execution_seconds"`
}

// HistoryItem is one row of the run history.
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

// PopularTicker is one row of the popular-tickers ranking.
type PopularTicker struct {
	Ticker string `json:"ticker"`
	Count  int    `json:"count"`
}

// Token is an issued session token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
}

// Profile describes the authenticated user.
type Profile struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	IsPremium bool   `json:"is_premium"`
	CreatedAt string `json:"created_at"`
}

// PaymentIntent is the mock payment-intent response.
type PaymentIntent struct {
	ClientSecret    string `json:"client_secret"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int    `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type historyResponse struct {
	Backtests []HistoryItem `json:"backtests"`
}

type popularTickersResponse struct {
	PopularTickers []PopularTicker `json:"popular_tickers"`
}

type paymentRequest struct {
	Amount int `json:"amount"`
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/health", nil, nil)
}

// Register creates an account and stores the issued token on the client.
func (c *Client) Register(ctx context.Context, email, password string) (*Token, error) {
	var tok Token
	if err := c.do(ctx, "POST", "/register", credentials{email, password}, &tok); err != nil {
		return nil, err
	}
	c.token = tok.AccessToken
	return &tok, nil
}

// Login authenticates and stores the issued token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*Token, error) {
	var tok Token
	if err := c.do(ctx, "POST", "/login", credentials{email, password}, &tok); err != nil {
		return nil, err
	}
	c.token = tok.AccessToken
	return &tok, nil
}

// Profile returns the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, "GET", "/user/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Backtest runs a backtest and persists it under the authenticated user.
func (c *Client) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	var res BacktestResult
	if err := c.do(ctx, "POST", "/backtest", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BacktestTest runs a backtest without persisting it. No auth required.
func (c *Client) BacktestTest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	var res BacktestResult
	if err := c.do(ctx, "POST", "/backtest/test", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// History returns the authenticated user's most recent runs, newest first.
// A non-positive limit uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryItem, error) {
	path := "/backtest/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp historyResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Backtests, nil
}

// Run returns one of the authenticated user's stored runs by id.
func (c *Client) Run(ctx context.Context, id int64) (*RunDetail, error) {
	var rd RunDetail
	if err := c.do(ctx, "GET", "/backtest/"+strconv.FormatInt(id, 10), nil, &rd); err != nil {
		return nil, err
	}
	return &rd, nil
}

// PopularTickers returns the most backtested tickers across all users.
func (c *Client) PopularTickers(ctx context.Context) ([]PopularTicker, error) {
	var resp popularTickersResponse
	if err := c.do(ctx, "GET", "/analytics/popular-tickers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.PopularTickers, nil
}

// CreatePaymentIntent upgrades the authenticated account to premium via the
// mock payment flow. Amount is in cents.
func (c *Client) CreatePaymentIntent(ctx context.Context, amount int) (*PaymentIntent, error) {
	var pi PaymentIntent
	if err := c.do(ctx, "POST", "/payment/create-intent", paymentRequest{amount}, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
