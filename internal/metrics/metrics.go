// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WagersTotal counts admission attempts by result ("ok" or an error code).
	WagersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_wagers_total",
		Help: "Wager admission attempts by result",
	}, []string{"result"})

	// WagerLatency tracks admission latency, lock wait included.
	WagerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pool_wager_latency_seconds",
		Help:    "Wager admission latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// StakedCoins accumulates OfficeCoins moved into pools.
	StakedCoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_staked_coins_total",
		Help: "OfficeCoins staked across all bets",
	})

	// ResolutionsTotal counts resolution attempts by result.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_resolutions_total",
		Help: "Bet resolution attempts by result",
	}, []string{"result"})

	// PaidCoins accumulates OfficeCoins credited by resolutions.
	PaidCoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_paid_coins_total",
		Help: "OfficeCoins paid out by resolutions",
	})

	// DustCoins accumulates floor-division remainders retained by the house.
	DustCoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_dust_coins_total",
		Help: "OfficeCoins retained as rounding remainder",
	})

	// ForfeitedCoins accumulates pools retained because nobody backed the winner.
	ForfeitedCoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_forfeited_coins_total",
		Help: "OfficeCoins retained from pools with no winning stake",
	})

	// LockWait tracks how long callers wait for a per-bet lock.
	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pool_lock_wait_seconds",
		Help:    "Per-bet lock acquisition wait in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// BetsCreated counts bets created.
	BetsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_bets_created_total",
		Help: "Number of bets created",
	})

	// EventsDropped counts events a sink failed to deliver.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_events_dropped_total",
		Help: "Events dropped or failed per sink",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// RateLimited counts requests rejected by the per-account limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_rate_limited_total",
		Help: "Requests rejected by the per-account rate limiter",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
