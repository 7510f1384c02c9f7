// ════════════════════════════════════════════════════════════════════════════════════════════════
// Monitoring — Prometheus Metrics & Health Surface
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: Operational Telemetry
//
// Description:
//   Registry-scoped Prometheus collectors for the timing core plus a minimal HTTP surface:
//   /metrics (Prometheus exposition) and /healthz (aggregated check results as JSON). All
//   collectors hang off an explicit registry handed down from main — no ambient default
//   registry, matching the construct-and-pass-down discipline of the rest of the system.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sugawarayuuta/sonnet"

	"github.com/Insider77Circle/Quantum-Topology-Prox/control"
	"github.com/Insider77Circle/Quantum-Topology-Prox/debug"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// METRICS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Metrics bundles the core's collectors.
type Metrics struct {
	PacketsProcessed prometheus.Counter
	DelayMs          prometheus.Histogram
	Violations       prometheus.Counter
	RefillFailures   prometheus.Counter
	SeedRefills      prometheus.Counter
}

// NewMetrics registers the collector set on the given registry.
// activeCircuits and poolFreshness are sampled lazily through gauge
// callbacks so the hot path never updates a gauge.
func NewMetrics(reg *prometheus.Registry, activeCircuits func() float64, poolFreshness func() float64) *Metrics {
	m := &Metrics{
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtop_packets_processed_total",
			Help: "Stream events that received a timing perturbation.",
		}),
		DelayMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qtop_packet_delay_ms",
			Help:    "Distribution of injected delays in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 0.1ms .. 12.8ms
		}),
		Violations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtop_winding_violations_total",
			Help: "Invariant violations detected by engine or verifier.",
		}),
		RefillFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtop_seed_refill_failures_total",
			Help: "Seed pool refills that failed and retained stale contents.",
		}),
		SeedRefills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtop_seed_refills_total",
			Help: "Successful bulk refills of the seed pool.",
		}),
	}

	reg.MustRegister(
		m.PacketsProcessed, m.DelayMs, m.Violations, m.RefillFailures, m.SeedRefills,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "qtop_active_circuits",
			Help: "Circuits with live timing state.",
		}, activeCircuits),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "qtop_seed_pool_freshness",
			Help: "Fraction of seed pool capacity not yet consumed since last refill.",
		}, poolFreshness),
	)
	return m
}

// RecordPacket updates the per-event collectors.
//
//go:inline
func (m *Metrics) RecordPacket(delayMs float64) {
	m.PacketsProcessed.Inc()
	m.DelayMs.Observe(delayMs)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// CheckFunc probes one subsystem: healthy flag plus a short message.
type CheckFunc func() (bool, string)

// CheckResult is one executed probe, JSON-shaped for /healthz.
type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// HealthStatus aggregates every registered probe.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Checks    []CheckResult `json:"checks"`
	Timestamp int64         `json:"timestamp"`
}

// HealthChecker runs registered probes on demand.
type HealthChecker struct {
	mu     sync.Mutex
	names  []string
	checks map[string]CheckFunc
}

// NewHealthChecker constructs an empty checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc)}
}

// Register adds a named probe. Registration order is reporting order.
func (h *HealthChecker) Register(name string, fn CheckFunc) {
	h.mu.Lock()
	if _, dup := h.checks[name]; !dup {
		h.names = append(h.names, name)
	}
	h.checks[name] = fn
	h.mu.Unlock()
}

// Status executes every probe and aggregates the results. A panicking
// probe is reported unhealthy rather than taking the endpoint down.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.Lock()
	names := append([]string(nil), h.names...)
	checks := make(map[string]CheckFunc, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.Unlock()

	now := time.Now().UnixNano()
	status := HealthStatus{Healthy: true, Timestamp: now}
	for _, name := range names {
		result := runCheck(name, checks[name], now)
		if !result.Healthy {
			status.Healthy = false
		}
		status.Checks = append(status.Checks, result)
	}
	return status
}

func runCheck(name string, fn CheckFunc, now int64) (result CheckResult) {
	result = CheckResult{Name: name, Timestamp: now}
	defer func() {
		if r := recover(); r != nil {
			result.Healthy = false
			result.Message = "check panicked"
		}
	}()
	result.Healthy, result.Message = fn()
	return result
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HTTP SURFACE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Serve starts the telemetry HTTP server on its own goroutine,
// registered with the global ShutdownWG. The returned server is already
// listening; main shuts it down by closing it after the stop flag.
func Serve(addr string, reg *prometheus.Registry, health *HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := health.Status()
		body, err := sonnet.Marshal(status)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(body)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	control.ShutdownWG.Add(1)
	go func() {
		defer control.ShutdownWG.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			debug.DropError("METRICS_HTTP", err)
		}
	}()
	return srv
}
