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

// Metrics holds all Prometheus metrics for the ingestor.
type Metrics struct {
	ReadingsTotal   prometheus.Counter
	MalformedTotal  prometheus.Counter
	PointsWritten   prometheus.Counter
	TSDBWriteErrors prometheus.Counter
	FieldsDropped   prometheus.Counter

	RuleEvalsTotal   prometheus.Counter
	TransitionsTotal *prometheus.CounterVec // labels: state=active|inactive
	RulesCount       prometheus.Gauge

	CommandsTotal *prometheus.CounterVec // labels: result=ok|error
	PulsesActive  prometheus.Gauge

	BrokerReconnects prometheus.Counter
	InboundDrops     prometheus.Counter
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	EvalDur prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReadingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_readings_total",
			Help: "Total sensor readings decoded",
		}),
		MalformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_malformed_total",
			Help: "Messages discarded for parse or shape errors",
		}),
		PointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_tsdb_points_total",
			Help: "Points handed to the TSDB write API",
		}),
		TSDBWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_tsdb_write_errors_total",
			Help: "Async TSDB write errors (logged and dropped)",
		}),
		FieldsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_tsdb_fields_dropped_total",
			Help: "Reading fields dropped for failed numeric parse",
		}),

		RuleEvalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_rule_evals_total",
			Help: "Rules evaluated against a relevant reading",
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_rule_transitions_total",
			Help: "Rule verdict transitions fired (by resulting state)",
		}, []string{"state"}),
		RulesCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestor_rules_count",
			Help: "Rules currently in the store",
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_commands_total",
			Help: "Actuator commands issued over HTTP (by result)",
		}, []string{"result"}),
		PulsesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestor_pulses_active",
			Help: "Timed pulses currently in flight",
		}),

		BrokerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_broker_reconnects_total",
			Help: "Broker connection losses observed",
		}),
		InboundDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_inbound_drops_total",
			Help: "Inbound broker messages dropped (channel full)",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_fanout_drops_total",
			Help: "Readings dropped by the storage fan-out per subscriber",
		}, []string{"subscriber"}),

		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestor_eval_duration_seconds",
			Help:    "Rule engine evaluation latency per reading",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01},
		}),
	}

	prometheus.MustRegister(
		m.ReadingsTotal,
		m.MalformedTotal,
		m.PointsWritten,
		m.TSDBWriteErrors,
		m.FieldsDropped,
		m.RuleEvalsTotal,
		m.TransitionsTotal,
		m.RulesCount,
		m.CommandsTotal,
		m.PulsesActive,
		m.BrokerReconnects,
		m.InboundDrops,
		m.FanoutDropsTotal,
		m.EvalDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	BrokerConnected bool      `json:"broker_connected"`
	TSDBOK          bool      `json:"tsdb_ok"`
	RedisConnected  bool      `json:"redis_connected"`
	JournalOK       bool      `json:"journal_ok"`
	RulesLoaded     int       `json:"rules_loaded"`
	LastReadingTime time.Time `json:"last_reading_time"`

	// Liveness probe results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetBrokerConnected(v bool) {
	h.mu.Lock()
	h.BrokerConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetTSDBOK(v bool) {
	h.mu.Lock()
	h.TSDBOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetJournalOK(v bool) {
	h.mu.Lock()
	h.JournalOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRulesLoaded(n int) {
	h.mu.Lock()
	h.RulesLoaded = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastReadingTime(t time.Time) {
	h.mu.Lock()
	h.LastReadingTime = t
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

// CheckJournal pings the SQLite journal and records latency + health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
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
				if db != nil {
					h.CheckJournal(probeCtx, db)
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
	if !h.BrokerConnected || !h.TSDBOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	readingAge := ""
	if !h.LastReadingTime.IsZero() {
		readingAge = time.Since(h.LastReadingTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		BrokerConnected  bool    `json:"broker_connected"`
		TSDBOK           bool    `json:"tsdb_ok"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		RulesLoaded      int     `json:"rules_loaded"`
		LastReadingTime  string  `json:"last_reading_time"`
		ReadingAge       string  `json:"reading_age"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		BrokerConnected:  h.BrokerConnected,
		TSDBOK:           h.TSDBOK,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		RulesLoaded:      h.RulesLoaded,
		LastReadingTime:  h.LastReadingTime.Format(time.RFC3339),
		ReadingAge:       readingAge,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
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
