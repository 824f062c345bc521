package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	// Verify Trade can be instantiated with zero values.
	trade := Trade{}
	if !trade.EntryDate.IsZero() || !trade.ExitDate.IsZero() {
		t.Error("expected zero dates for zero-value Trade")
	}
	if trade.PnL != 0 || trade.PnLNet != 0 {
		t.Error("expected zero PnL/PnLNet for zero-value Trade")
	}

	// Verify enum constants are defined correctly.
	if ActionBuy != "buy" || ActionSell != "sell" || ActionHold != "hold" {
		t.Error("Action constants have unexpected values")
	}
	if MarketUS != "us" {
		t.Errorf("MarketUS = %q, want %q", MarketUS, "us")
	}

	// Verify structs can be constructed with real values.
	now := time.Now()
	rule := Rule{Condition: CondGreater, Then: ActionBuy, Else: ActionHold}
	if rule.Condition != CondGreater {
		t.Errorf("rule.Condition = %q, want %q", rule.Condition, CondGreater)
	}

	pos := Position{
		EntryDate:  now,
		EntryPrice: 187.5,
		Size:       53.28,
		Committed:  10000,
	}
	if pos.EntryPrice != 187.5 {
		t.Errorf("pos.EntryPrice = %v, want %v", pos.EntryPrice, 187.5)
	}
}

func TestEquityPointJSON(t *testing.T) {
	day := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)

	// Warmup points carry no SMA and must serialize it as null.
	warm := EquityPoint{Date: day, PortfolioValue: 10000, Price: 101.5}
	b, err := json.Marshal(warm)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"sma":null`) {
		t.Errorf("warmup point JSON = %s, want sma null", b)
	}

	sma := 100.25
	filled := EquityPoint{Date: day, PortfolioValue: 10120, Price: 101.5, SMA: &sma}
	b, err = json.Marshal(filled)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"sma":100.25`) {
		t.Errorf("filled point JSON = %s, want sma 100.25", b)
	}
}
