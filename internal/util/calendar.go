package util

import (
	"time"

	"neptun/internal/domain"
)

// TradingCalendar answers trading-day questions for a market. Only the
// weekly cycle is modeled; exchange holidays count as trading days here,
// which is acceptable because consumers treat the daily series as
// gap-tolerant.
// TODO: fold in the NYSE holiday list so cache coverage checks stop
// over-fetching around holidays.
type TradingCalendar struct {
	market domain.Market
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	return &TradingCalendar{market: market}
}

// IsTradingDay reports whether t falls on a weekday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// FirstTradingDayOnOrAfter returns t advanced to the next weekday, leaving
// weekdays untouched.
func (tc *TradingCalendar) FirstTradingDayOnOrAfter(t time.Time) time.Time {
	for !tc.IsTradingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// LastTradingDayOnOrBefore returns t moved back to the previous weekday,
// leaving weekdays untouched.
func (tc *TradingCalendar) LastTradingDayOnOrBefore(t time.Time) time.Time {
	for !tc.IsTradingDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}
