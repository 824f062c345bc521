// Run SMA rule backtests from the command line, without the API server.
// Bars come from the local Parquet cache when it covers the range and from
// Alpaca otherwise, so the first run on a fresh range needs API keys.
//
// Usage:
//
//	neptun-backtest -start 2024-01-02 -end 2024-06-28 AAPL MSFT TSLA
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"neptun/internal/backtest"
	"neptun/internal/config"
	"neptun/internal/marketdata"
	"neptun/internal/report"
	"neptun/internal/store"
	"neptun/internal/strategy"
)

const dateFormat = "2006-01-02"

func main() {
	start := flag.String("start", "", "range start, YYYY-MM-DD (required)")
	end := flag.String("end", "", "range end, YYYY-MM-DD (required)")
	window := flag.Int("window", 20, "SMA window in trading days")
	ifCond := flag.String("if", "price > sma", "rule condition")
	thenAct := flag.String("then", "buy", "action when the condition holds")
	elseAct := flag.String("else", "hold", "action otherwise")
	cash := flag.Float64("cash", backtest.DefaultInitialCash, "initial cash")
	commission := flag.Float64("commission", backtest.DefaultCommissionRate, "commission rate per trade leg")
	trades := flag.Bool("trades", false, "list closed trades per ticker")
	workers := flag.Int("workers", 4, "concurrent tickers")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: neptun-backtest [options] TICKER [TICKER...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	tickers := flag.Args()
	if len(tickers) == 0 || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(1)
	}

	startDate, err := time.Parse(dateFormat, *start)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	endDate, err := time.Parse(dateFormat, *end)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}
	if endDate.Before(startDate) {
		log.Fatalf("-start %s is after -end %s", *start, *end)
	}

	cfgPath := "config/neptun.yaml"
	if p := os.Getenv("NEPTUN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Keep stdout for the report; warnings and errors go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	data := marketdata.NewService(cfg.Alpaca, bars, cfg.Backtest.FetchPerMinute, cfg.Backtest.FetchAttempts)

	params := backtest.Params{
		Window:      *window,
		Rule:        strategy.ParseRule(*ifCond, *thenAct, *elseAct),
		InitialCash: *cash,
		Commission:  *commission,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	type outcome struct {
		ticker string
		text   string
		err    error
	}
	results := make([]outcome, len(tickers))
	sem := make(chan struct{}, *workers)

	g, gctx := errgroup.WithContext(ctx)
	for i, ticker := range tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			series, err := data.DailyBars(gctx, ticker, startDate, endDate)
			if err != nil {
				results[i] = outcome{ticker: ticker, err: err}
				return nil
			}
			res, err := backtest.Run(series, params)
			if err != nil {
				results[i] = outcome{ticker: ticker, err: err}
				return nil
			}

			text := report.Summary(ticker, res)
			if *trades {
				for _, line := range report.TradeLines(res.Trades) {
					text += "\n" + line
				}
			}
			results[i] = outcome{ticker: ticker, text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("error: %v", err)
	}

	failed := 0
	for i, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.ticker, r.err)
			continue
		}
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(r.text)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
