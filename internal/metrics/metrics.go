// Package metrics exposes Prometheus metrics and a /healthz endpoint
// for the platform services.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the platform.
type Metrics struct {
	// Market data pipeline
	TicksTotal        prometheus.Counter
	TicksDeduped      prometheus.Counter
	DroppedTicks      prometheus.Counter
	CandlesClosed     *prometheus.CounterVec // labels: timeframe
	CandleInsertRetry prometheus.Counter
	CandleLag         prometheus.Gauge
	WSReconnects      prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Bus and recovery cache
	PublishFailures *prometheus.CounterVec // labels: channel
	RedisWriteDur   prometheus.Histogram
	BreakerState    prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips    prometheus.Counter

	// Storage
	SQLiteCommitDur prometheus.Histogram

	// Trading
	OrdersPlaced       *prometheus.CounterVec // labels: type
	SnapshotsWritten   prometheus.Counter
	BacktestsCompleted prometheus.Counter
	BacktestsFailed    prometheus.Counter
	BrokerRateTokens   prometheus.Gauge
}

// New registers and returns all platform metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_ticks_total",
			Help: "Total ticks received from the venue feed",
		}),
		TicksDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_ticks_deduped_total",
			Help: "Ticks dropped as duplicates within the dedup window",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_dropped_ticks_total",
			Help: "Ticks dropped (late or channel full)",
		}),
		CandlesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_candles_closed_total",
			Help: "Closed candles emitted, by timeframe",
		}, []string{"timeframe"}),
		CandleInsertRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_candle_insert_retries_total",
			Help: "Retried candle inserts on candle close",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platform_candle_lag_seconds",
			Help: "Lag between candle bucket end and emission time",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_ws_reconnects_total",
			Help: "WebSocket feed reconnection attempts",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_fanout_drops_total",
			Help: "Ticks dropped by the fan-out per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "platform_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_bus_publish_failures_total",
			Help: "Failed bus publishes, by channel",
		}, []string{"channel"}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "platform_redis_write_duration_seconds",
			Help:    "Recovery cache write latency",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platform_redis_circuit_breaker_state",
			Help: "Recovery cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_redis_circuit_breaker_trips_total",
			Help: "Times the recovery cache circuit breaker tripped open",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "platform_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_orders_placed_total",
			Help: "Orders placed through broker adapters, by order type",
		}, []string{"type"}),
		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_account_snapshots_total",
			Help: "Account snapshots persisted",
		}),
		BacktestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_backtests_completed_total",
			Help: "Backtests finished successfully",
		}),
		BacktestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_backtests_failed_total",
			Help: "Backtests that ended in failure",
		}),
		BrokerRateTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platform_broker_rate_tokens",
			Help: "Tokens currently available in the broker rate limiter",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.TicksDeduped,
		m.DroppedTicks,
		m.CandlesClosed,
		m.CandleInsertRetry,
		m.CandleLag,
		m.WSReconnects,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.PublishFailures,
		m.RedisWriteDur,
		m.BreakerState,
		m.BreakerTrips,
		m.SQLiteCommitDur,
		m.OrdersPlaced,
		m.SnapshotsWritten,
		m.BacktestsCompleted,
		m.BacktestsFailed,
		m.BrokerRateTokens,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.WSConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
