// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by resource.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colony_market_trades_total",
		Help: "Total number of trades executed",
	}, []string{"resource"})

	// TradeVolume accumulates traded quantity per resource.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colony_market_trade_volume_total",
		Help: "Cumulative traded quantity in units",
	}, []string{"resource"})

	// OrdersPlaced counts orders accepted, partitioned by side.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colony_market_orders_placed_total",
		Help: "Total orders placed",
	}, []string{"order_type"})

	// MatchFailures counts counter-orders skipped after settlement failures.
	MatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colony_market_match_failures_total",
		Help: "Matches skipped because trade settlement failed",
	})

	// ExpiredOrders counts orders purged or failed by the expiry sweep.
	ExpiredOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colony_market_expired_orders_total",
		Help: "Standing orders removed by the expiry sweep",
	})

	// ConditionTickDuration tracks supply/demand tick duration.
	ConditionTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "colony_market_condition_tick_duration_seconds",
		Help:    "Duration of one condition update tick",
		Buckets: prometheus.DefBuckets,
	})

	// ConditionsUpdated counts condition rows evolved per tick.
	ConditionsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colony_market_conditions_updated_total",
		Help: "Condition rows evolved by the updater",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colony_market_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colony_market_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colony_market_http_request_duration_seconds",
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
