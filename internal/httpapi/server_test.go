package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"neptun/internal/auth"
	"neptun/internal/config"
	"neptun/internal/domain"
	"neptun/internal/marketdata"
	"neptun/internal/store"
)

func newTestServer(t *testing.T) (http.Handler, *store.ParquetStore) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.DataDir = dir
	cfg.Storage.SQLitePath = filepath.Join(dir, "test.db")
	cfg.Auth.JWTSecret = "test-secret"

	ps := store.NewParquetStore(dir)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	data := marketdata.NewService(cfg.Alpaca, ps, cfg.Backtest.FetchPerMinute, cfg.Backtest.FetchAttempts)
	am := auth.NewManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	return NewServer(cfg, db, db, data, am).Handler(), ps
}

// seedWeekdayBars writes one bar per weekday from start through end so the
// bar cache fully covers the range and no fetch is attempted.
func seedWeekdayBars(t *testing.T, ps *store.ParquetStore, symbol string, start time.Time, closes []float64) {
	t.Helper()
	var bars []domain.Bar
	day := start
	for _, c := range closes {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: day,
			Open:      c, High: c, Low: c, Close: c,
			Volume: 1000000,
		})
		day = day.AddDate(0, 0, 1)
	}
	if err := ps.WriteBars(context.Background(), bars, domain.MarketUS); err != nil {
		t.Fatalf("seeding bars: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func register(t *testing.T, h http.Handler, email string) TokenResponse {
	t.Helper()
	rec := doJSON(t, h, "POST", "/register", "", RegisterRequest{Email: email, Password: "hunter22"})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[TokenResponse](t, rec)
}

func TestRootAndHealth(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, "GET", "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("root status = %d", rec.Code)
	}
	root := decode[RootResponse](t, rec)
	if root.Status != "online" || root.Message == "" {
		t.Errorf("root = %+v", root)
	}

	rec = doJSON(t, h, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	health := decode[HealthResponse](t, rec)
	if health.Status != "healthy" {
		t.Errorf("health status = %q", health.Status)
	}
	if _, err := time.Parse(time.RFC3339, health.Timestamp); err != nil {
		t.Errorf("health timestamp %q: %v", health.Timestamp, err)
	}
}

func TestRegisterLoginProfile(t *testing.T) {
	h, _ := newTestServer(t)

	tok := register(t, h, "trader@example.com")
	if tok.AccessToken == "" || tok.TokenType != "bearer" || tok.UserID == 0 {
		t.Fatalf("register token = %+v", tok)
	}

	// Duplicate email is rejected.
	rec := doJSON(t, h, "POST", "/register", "", RegisterRequest{Email: "trader@example.com", Password: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d", rec.Code)
	}

	// Login with the right and wrong password.
	rec = doJSON(t, h, "POST", "/login", "", LoginRequest{Email: "trader@example.com", Password: "hunter22"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	login := decode[TokenResponse](t, rec)
	if login.UserID != tok.UserID {
		t.Errorf("login user_id = %d, want %d", login.UserID, tok.UserID)
	}

	rec = doJSON(t, h, "POST", "/login", "", LoginRequest{Email: "trader@example.com", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Errorf("bad login missing WWW-Authenticate header")
	}

	// Profile requires and honors the token.
	rec = doJSON(t, h, "GET", "/user/profile", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated profile status = %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/user/profile", login.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d", rec.Code)
	}
	profile := decode[ProfileResponse](t, rec)
	if profile.Email != "trader@example.com" || profile.IsPremium {
		t.Errorf("profile = %+v", profile)
	}
}

func TestBacktestEndToEnd(t *testing.T) {
	h, ps := newTestServer(t)
	// Six weekdays starting Tuesday 2024-01-02. Rule buys on the second bar
	// and never sells, so the run closes zero trades.
	seedWeekdayBars(t, ps, "AAPL",
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		[]float64{10, 11, 12, 9, 8, 13})

	tok := register(t, h, "trader@example.com")

	req := BacktestRequest{
		Ticker:    "AAPL",
		StartDate: "2024-01-02",
		EndDate:   "2024-01-09",
		SMAPeriod: 2,
		Rule:      RuleJSON{IfCondition: "price > sma", ThenAction: "buy", ElseAction: "hold"},
	}
	rec := doJSON(t, h, "POST", "/backtest", tok.AccessToken, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("backtest status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[BacktestResponse](t, rec)

	if resp.TotalReturn != 18.06 {
		t.Errorf("total_return = %v, want 18.06", resp.TotalReturn)
	}
	if resp.FinalPortfolioValue != 11806.36 {
		t.Errorf("final_portfolio_value = %v, want 11806.36", resp.FinalPortfolioValue)
	}
	if resp.NumberOfTrades != 0 || resp.WinRate != 0 {
		t.Errorf("trades = %d, win_rate = %v, want 0/0", resp.NumberOfTrades, resp.WinRate)
	}
	if len(resp.EquityCurve) != 6 {
		t.Fatalf("equity curve length = %d, want 6", len(resp.EquityCurve))
	}
	if resp.EquityCurve[0].SMA != nil {
		t.Error("first equity point SMA should be null during warmup")
	}
	if resp.EquityCurve[0].Date != "2024-01-02" {
		t.Errorf("first equity date = %q", resp.EquityCurve[0].Date)
	}
	if resp.BacktestID == nil {
		t.Fatal("backtest_id missing on persisted run")
	}

	// The run shows up in history.
	rec = doJSON(t, h, "GET", "/backtest/history", tok.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	hist := decode[HistoryResponse](t, rec)
	if len(hist.Backtests) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist.Backtests))
	}
	item := hist.Backtests[0]
	if item.ID != *resp.BacktestID || item.Ticker != "AAPL" || item.TotalReturn != 18.06 {
		t.Errorf("history item = %+v", item)
	}

	// And in the popular-tickers aggregation.
	rec = doJSON(t, h, "GET", "/analytics/popular-tickers", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("popular tickers status = %d", rec.Code)
	}
	pop := decode[PopularTickersResponse](t, rec)
	if len(pop.PopularTickers) != 1 || pop.PopularTickers[0].Ticker != "AAPL" || pop.PopularTickers[0].Count != 1 {
		t.Errorf("popular tickers = %+v", pop.PopularTickers)
	}

	// The stored run can be fetched in full, curve included.
	rec = doJSON(t, h, "GET", fmt.Sprintf("/backtest/%d", *resp.BacktestID), tok.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run detail status = %d, body %s", rec.Code, rec.Body.String())
	}
	detail := decode[RunDetailResponse](t, rec)
	if detail.ID != *resp.BacktestID || detail.SMAPeriod != 2 || detail.Rule.ThenAction != "buy" {
		t.Errorf("run detail = %+v", detail)
	}
	if len(detail.EquityCurve) != 6 || detail.TotalReturn != 18.06 {
		t.Errorf("run detail curve length = %d, return = %v", len(detail.EquityCurve), detail.TotalReturn)
	}

	// Other users cannot see it.
	other := register(t, h, "other@example.com")
	rec = doJSON(t, h, "GET", fmt.Sprintf("/backtest/%d", *resp.BacktestID), other.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user run detail status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/backtest/999999", tok.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing run detail status = %d, want 404", rec.Code)
	}
}

func TestBacktestTestEndpointDoesNotPersist(t *testing.T) {
	h, ps := newTestServer(t)
	seedWeekdayBars(t, ps, "TSLA",
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		[]float64{100, 110, 180, 120, 121, 90})

	req := BacktestRequest{
		Ticker:    "tsla",
		StartDate: "2024-01-02",
		EndDate:   "2024-01-09",
		SMAPeriod: 2,
		Rule:      RuleJSON{IfCondition: "price > sma", ThenAction: "buy", ElseAction: "sell"},
	}
	// No token required.
	rec := doJSON(t, h, "POST", "/backtest/test", "", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("backtest/test status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[BacktestResponse](t, rec)
	if resp.BacktestID != nil {
		t.Errorf("backtest_id = %v on unsaved run, want null", *resp.BacktestID)
	}
	if resp.NumberOfTrades != 2 {
		t.Errorf("number_of_trades = %d, want 2", resp.NumberOfTrades)
	}
	if resp.WinRate != 50 {
		t.Errorf("win_rate = %v, want 50", resp.WinRate)
	}

	// Nothing was recorded for analytics.
	rec = doJSON(t, h, "GET", "/analytics/popular-tickers", "", nil)
	pop := decode[PopularTickersResponse](t, rec)
	if len(pop.PopularTickers) != 0 {
		t.Errorf("popular tickers after test run = %+v, want empty", pop.PopularTickers)
	}
}

func TestBacktestValidation(t *testing.T) {
	h, _ := newTestServer(t)
	tok := register(t, h, "trader@example.com")

	base := BacktestRequest{
		Ticker:    "AAPL",
		StartDate: "2024-01-02",
		EndDate:   "2024-01-09",
		SMAPeriod: 2,
	}

	cases := []struct {
		name   string
		mutate func(*BacktestRequest)
	}{
		{"missing ticker", func(r *BacktestRequest) { r.Ticker = "  " }},
		{"bad start date", func(r *BacktestRequest) { r.StartDate = "01/02/2024" }},
		{"bad end date", func(r *BacktestRequest) { r.EndDate = "soon" }},
		{"start after end", func(r *BacktestRequest) { r.StartDate = "2024-02-01" }},
		{"start equals end", func(r *BacktestRequest) { r.StartDate = "2024-01-09" }},
		{"zero sma period", func(r *BacktestRequest) { r.SMAPeriod = 0 }},
		{"negative sma period", func(r *BacktestRequest) { r.SMAPeriod = -5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			rec := doJSON(t, h, "POST", "/backtest", tok.AccessToken, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestBacktestWeekendOnlyRange(t *testing.T) {
	h, _ := newTestServer(t)
	tok := register(t, h, "trader@example.com")

	req := BacktestRequest{
		Ticker:    "AAPL",
		StartDate: "2024-01-06", // Saturday
		EndDate:   "2024-01-07", // Sunday
		SMAPeriod: 2,
	}
	rec := doJSON(t, h, "POST", "/backtest", tok.AccessToken, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("weekend range status = %d, want 400", rec.Code)
	}
}

func TestHistoryLimitValidation(t *testing.T) {
	h, _ := newTestServer(t)
	tok := register(t, h, "trader@example.com")

	rec := doJSON(t, h, "GET", "/backtest/history?limit=abc", tok.AccessToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=abc status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/backtest/history?limit=0", tok.AccessToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/backtest/history?limit=5", tok.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("limit=5 status = %d, want 200", rec.Code)
	}
	hist := decode[HistoryResponse](t, rec)
	if hist.Backtests == nil || len(hist.Backtests) != 0 {
		t.Errorf("empty history = %v, want []", hist.Backtests)
	}
}

func TestPaymentIntentUpgradesAccount(t *testing.T) {
	h, _ := newTestServer(t)
	tok := register(t, h, "trader@example.com")

	rec := doJSON(t, h, "POST", "/payment/create-intent", tok.AccessToken, PaymentIntentRequest{Amount: 999})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment status = %d, body %s", rec.Code, rec.Body.String())
	}
	intent := decode[PaymentIntentResponse](t, rec)
	if intent.ClientSecret == "" || intent.Amount != 999 || intent.Currency != "usd" {
		t.Errorf("intent = %+v", intent)
	}
	if intent.Status != "requires_payment_method" {
		t.Errorf("intent status = %q", intent.Status)
	}

	rec = doJSON(t, h, "GET", "/user/profile", tok.AccessToken, nil)
	profile := decode[ProfileResponse](t, rec)
	if !profile.IsPremium {
		t.Error("profile not premium after payment intent")
	}

	// Zero amounts are rejected before any upgrade.
	rec = doJSON(t, h, "POST", "/payment/create-intent", tok.AccessToken, PaymentIntentRequest{Amount: 0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero amount status = %d, want 400", rec.Code)
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	h, _ := newTestServer(t)
	register(t, h, "trader@example.com")

	for _, header := range []string{"", "Bearer", "Bearer garbage", "Basic abc"} {
		req := httptest.NewRequest("GET", "/user/profile", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q status = %d, want 401", header, rec.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/backtest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight missing CORS origin header")
	}
}

func TestRequestIDHeader(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, "GET", "/health", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID")
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want caller-supplied fixed-id", got)
	}
}
