// Package marketdata fetches daily OHLCV bars for US equities from the
// Alpaca market-data API, backed by the local Parquet bar cache. Reads are
// cache-first: the API is only hit when the cached series does not cover
// the requested range.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"neptun/internal/config"
	"neptun/internal/domain"
	"neptun/internal/metrics"
	"neptun/internal/store"
	"neptun/internal/util"
)

const dateFormat = "2006-01-02"

// ErrNoData means the provider has no bars for the symbol in the requested
// range. Callers should treat it as a bad request, not a provider outage.
var ErrNoData = errors.New("no market data")

// Service serves daily bars for single symbols. Safe for concurrent use.
type Service struct {
	client   *marketdata.Client
	bars     store.BarStore
	cal      *util.TradingCalendar
	limiter  *util.RateLimiter
	attempts int
	feed     marketdata.Feed
	log      *slog.Logger
}

// NewService creates a Service using the given Alpaca credentials and bar
// cache. perMinute bounds API calls, attempts bounds retries per fetch.
func NewService(cfg config.Alpaca, bars store.BarStore, perMinute, attempts int) *Service {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	if perMinute <= 0 {
		perMinute = 200
	}
	if attempts <= 0 {
		attempts = 3
	}

	return &Service{
		client:   marketdata.NewClient(opts),
		bars:     bars,
		cal:      util.NewTradingCalendar(domain.MarketUS),
		limiter:  util.NewRateLimiter(perMinute),
		attempts: attempts,
		feed:     marketdata.Feed(cfg.Feed),
		log:      slog.Default().With("component", "marketdata"),
	}
}

// DailyBars returns the daily bars for symbol between start and end
// inclusive, ascending by date. Cached bars are used when they cover every
// trading day in the range; otherwise the range is fetched from Alpaca and
// the cache updated. Returns ErrNoData when the range holds no trading days
// or the provider has nothing for the symbol.
func (s *Service) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrNoData)
	}
	start, end = dateOnly(start), dateOnly(end)

	first := s.cal.FirstTradingDayOnOrAfter(start)
	last := s.cal.LastTradingDayOnOrBefore(end)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: no trading days between %s and %s",
			ErrNoData, start.Format(dateFormat), end.Format(dateFormat))
	}

	cached, err := s.bars.ReadBars(ctx, symbol, domain.MarketUS, start, end)
	if err != nil {
		// A damaged cache should not take the endpoint down; refetch instead.
		s.log.Warn("bar cache read failed", "symbol", symbol, "err", err)
		cached = nil
	}
	if s.covers(cached, first, last) {
		metrics.BarCacheHits.Inc()
		s.log.Debug("bar cache hit", "symbol", symbol, "bars", len(cached))
		return cached, nil
	}

	metrics.BarCacheMisses.Inc()
	fetched, err := s.fetch(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("%w: %s between %s and %s",
			ErrNoData, symbol, start.Format(dateFormat), end.Format(dateFormat))
	}

	if err := s.bars.WriteBars(ctx, fetched, domain.MarketUS); err != nil {
		s.log.Warn("bar cache write failed", "symbol", symbol, "err", err)
	}

	s.log.Info("fetched bars", "symbol", symbol, "bars", len(fetched),
		"start", start.Format(dateFormat), "end", end.Format(dateFormat))
	return clipRange(fetched, start, end), nil
}

// covers reports whether cached spans every trading day from first to last.
// Days newer than the latest settled session are not demanded of the cache,
// so requests whose end date is today or in the future still hit.
func (s *Service) covers(cached []domain.Bar, first, last time.Time) bool {
	if len(cached) == 0 {
		return false
	}
	settled := s.cal.LastTradingDayOnOrBefore(dateOnly(time.Now()).AddDate(0, 0, -1))
	if settled.Before(last) {
		last = settled
	}
	if last.Before(first) {
		return true
	}
	return !cached[0].Timestamp.After(first) && !cached[len(cached)-1].Timestamp.Before(last)
}

// fetch pulls daily bars from the Alpaca API with rate limiting and retry.
func (s *Service) fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var raw []marketdata.Bar
	err := util.Retry(ctx, s.attempts, time.Second, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		bars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			// Daily bars are stamped at session start, so the following
			// midnight includes the final date without leaking the next one.
			End:  end.AddDate(0, 0, 1),
			Feed: s.feed,
		})
		if err != nil {
			return fmt.Errorf("GetBars %s: %w", symbol, err)
		}
		raw = bars
		return nil
	})
	if err != nil {
		return nil, err
	}
	return normalizeBars(symbol, raw), nil
}

// normalizeBars converts provider bars to domain bars with timestamps
// truncated to midnight UTC, deduplicated by date (last wins) and sorted
// ascending.
func normalizeBars(symbol string, raw []marketdata.Bar) []domain.Bar {
	byDate := make(map[time.Time]domain.Bar, len(raw))
	for _, b := range raw {
		day := dateOnly(b.Timestamp)
		byDate[day] = domain.Bar{
			Symbol:     symbol,
			Timestamp:  day,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     int64(b.Volume),
			TradeCount: int64(b.TradeCount),
			VWAP:       b.VWAP,
		}
	}

	out := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// clipRange keeps bars with start <= timestamp <= end.
func clipRange(bars []domain.Bar, start, end time.Time) []domain.Bar {
	var out []domain.Bar
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
