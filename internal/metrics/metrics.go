// Package metrics exposes Prometheus instrumentation for the HTTP API, the
// backtest engine and the bar cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by route and status code",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request duration, by route",
		},
		[]string{"route"},
	)

	BacktestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtests_total",
			Help: "Backtests executed, by ticker",
		},
		[]string{"ticker"},
	)

	BacktestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "backtest_duration_seconds",
			Help: "End-to-end backtest duration including data fetch",
		},
	)

	BarCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bar_cache_hits_total",
			Help: "Daily bar requests served from the Parquet cache",
		},
	)

	BarCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bar_cache_misses_total",
			Help: "Daily bar requests that fell through to the provider",
		},
	)
)

// Handler returns the Prometheus exposition handler for the default registry.
func Handler() http.Handler { return promhttp.Handler() }
