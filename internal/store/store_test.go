package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"neptun/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", domain.MarketUS, 2024)

	wantBarPath := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}
	if !strings.Contains(bp, "AAPL") {
		t.Errorf("barPath should upper-case the symbol: %s", bp)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
	}

	if err := ps.WriteBars(ctx, bars, domain.MarketUS); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", domain.MarketUS, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 {
		t.Errorf("first bar Close = %v, want 185.5", got[0].Close)
	}
	if got[1].Close != 186.0 {
		t.Errorf("second bar Close = %v, want 186.0", got[1].Close)
	}

	// Range filtering is inclusive and excludes bars outside it.
	got, err = ps.ReadBars(ctx, "AAPL", domain.MarketUS, start, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars (narrow): %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("narrow ReadBars returned %d bars, want 1", len(got))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars1 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 403.0,
			Volume: 30000000, TradeCount: 300000, VWAP: 402.0,
		},
	}
	if err := ps.WriteBars(ctx, bars1, domain.MarketUS); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Second write for the same symbol+year must merge, not overwrite, and
	// the overlapping date must win with the newer record.
	bars2 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 406.0, Low: 399.0, Close: 404.5,
			Volume: 31000000, TradeCount: 310000, VWAP: 402.5,
		},
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			Open:      403.0, High: 410.0, Low: 402.0, Close: 408.0,
			Volume: 35000000, TradeCount: 350000, VWAP: 406.0,
		},
	}
	if err := ps.WriteBars(ctx, bars2, domain.MarketUS); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "MSFT", domain.MarketUS, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.5 {
		t.Errorf("merged bar Close = %v, want newer 404.5", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 185.0, High: 186.0, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 140.0, High: 141.0, Low: 139.0, Close: 140.5, Volume: 20000000},
	}
	if err := ps.WriteBars(ctx, bars, domain.MarketUS); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, domain.MarketUS)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestSQLiteStoreUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "trader@example.com", "hashed-pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == 0 {
		t.Error("CreateUser assigned id 0")
	}
	if !u.IsActive || u.IsPremium {
		t.Errorf("new user flags = active %v premium %v, want true/false", u.IsActive, u.IsPremium)
	}

	got, err := s.UserByEmail(ctx, "trader@example.com")
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	if got.ID != u.ID || got.HashedPassword != "hashed-pw" {
		t.Errorf("UserByEmail = %+v, want id %d", got, u.ID)
	}
	if got.CreatedAt.IsZero() {
		t.Error("UserByEmail returned zero CreatedAt")
	}

	byID, err := s.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if byID.Email != "trader@example.com" {
		t.Errorf("UserByID email = %q", byID.Email)
	}

	if _, err := s.UserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UserByEmail(missing) = %v, want ErrNotFound", err)
	}

	if err := s.SetPremium(ctx, u.ID, true); err != nil {
		t.Fatalf("SetPremium: %v", err)
	}
	got, _ = s.UserByID(ctx, u.ID)
	if !got.IsPremium {
		t.Error("SetPremium did not stick")
	}

	if err := s.SetPremium(ctx, 99999, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetPremium(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreDuplicateEmail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "dup@example.com", "pw1"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, "dup@example.com", "pw2"); err == nil {
		t.Error("second CreateUser with same email should fail on the unique index")
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "runs@example.com", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	sma := 101.5
	run := &domain.Run{
		UserID:         u.ID,
		Ticker:         "AAPL",
		StartDate:      "2024-01-01",
		EndDate:        "2024-06-30",
		SMAPeriod:      20,
		RuleCondition:  "price > sma",
		RuleThenAction: "buy",
		RuleElseAction: "sell",
		TotalReturn:    12.34,
		WinRate:        66.67,
		NumberOfTrades: 3,

		FinalPortfolioValue: 11234.56,
		SharpeRatio:         1.42,
		EquityCurve: []domain.EquityPoint{
			{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), PortfolioValue: 10000, Price: 100},
			{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), PortfolioValue: 10100, Price: 102, SMA: &sma},
		},
		ExecutionSeconds: 0.031,
	}

	id, err := s.SaveRun(ctx, run)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id == 0 || run.ID != id {
		t.Errorf("SaveRun id = %d, run.ID = %d", id, run.ID)
	}

	got, err := s.RunByID(ctx, id)
	if err != nil {
		t.Fatalf("RunByID: %v", err)
	}
	if got.Ticker != "AAPL" || got.SMAPeriod != 20 || got.NumberOfTrades != 3 {
		t.Errorf("RunByID = %+v", got)
	}
	if len(got.EquityCurve) != 2 {
		t.Fatalf("equity curve length = %d, want 2", len(got.EquityCurve))
	}
	if got.EquityCurve[0].SMA != nil {
		t.Error("first curve point SMA should round-trip as nil")
	}
	if got.EquityCurve[1].SMA == nil || *got.EquityCurve[1].SMA != 101.5 {
		t.Error("second curve point SMA should round-trip as 101.5")
	}
	if !got.EquityCurve[0].Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("curve date = %v", got.EquityCurve[0].Date)
	}

	if _, err := s.RunByID(ctx, 424242); !errors.Is(err, ErrNotFound) {
		t.Errorf("RunByID(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreRunsByUserOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, _ := s.CreateUser(ctx, "history@example.com", "pw")
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := &domain.Run{
			UserID:         u.ID,
			Ticker:         "TSLA",
			StartDate:      "2024-01-01",
			EndDate:        "2024-03-01",
			SMAPeriod:      10,
			RuleCondition:  "price > sma",
			RuleThenAction: "buy",
			RuleElseAction: "hold",
			EquityCurve:    []domain.EquityPoint{},
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		}
		if _, err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	runs, err := s.RunsByUser(ctx, u.ID, 3)
	if err != nil {
		t.Fatalf("RunsByUser: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("RunsByUser returned %d runs, want 3", len(runs))
	}
	// Newest first.
	for i := 1; i < len(runs); i++ {
		if runs[i].CreatedAt.After(runs[i-1].CreatedAt) {
			t.Errorf("runs out of order: %v after %v", runs[i].CreatedAt, runs[i-1].CreatedAt)
		}
	}

	other, _ := s.CreateUser(ctx, "other@example.com", "pw")
	runs, err = s.RunsByUser(ctx, other.ID, 10)
	if err != nil {
		t.Fatalf("RunsByUser (other): %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("other user has %d runs, want 0", len(runs))
	}
}

func TestSQLiteStorePopularTickers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, _ := s.CreateUser(ctx, "pop@example.com", "pw")
	save := func(ticker string) {
		t.Helper()
		run := &domain.Run{
			UserID: u.ID, Ticker: ticker,
			StartDate: "2024-01-01", EndDate: "2024-02-01", SMAPeriod: 5,
			RuleCondition: "price > sma", RuleThenAction: "buy", RuleElseAction: "sell",
			EquityCurve: []domain.EquityPoint{},
		}
		if _, err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun(%s): %v", ticker, err)
		}
	}
	save("AAPL")
	save("AAPL")
	save("AAPL")
	save("TSLA")
	save("TSLA")
	save("NVDA")

	top, err := s.PopularTickers(ctx, 2)
	if err != nil {
		t.Fatalf("PopularTickers: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("PopularTickers returned %d rows, want 2", len(top))
	}
	if top[0].Ticker != "AAPL" || top[0].Count != 3 {
		t.Errorf("top ticker = %+v, want AAPL x3", top[0])
	}
	if top[1].Ticker != "TSLA" || top[1].Count != 2 {
		t.Errorf("second ticker = %+v, want TSLA x2", top[1])
	}
}
