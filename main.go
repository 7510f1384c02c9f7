// ════════════════════════════════════════════════════════════════════════════════════════════════
// Quantum Topology Proxy - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: Main Entry Point & System Orchestration
//
// Description:
//   System orchestration with phased initialization and clean separation of concerns.
//   Configuration → Core Construction → Seed Preload → Background Services → Event Interception
//
// Architecture:
//   - Phase 0: Configuration loading and fail-fast validation
//   - Phase 1: Core construction (pool, store, engine, audit, verifier)
//   - Phase 2: Seed preload with provider fallback and entropy personalization
//   - Phase 3: Background services (verifier sweep, refill scheduler, reaper, telemetry)
//   - Phase 4: Control-port interception with infinite reconnection
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sugawarayuuta/sonnet"

	"github.com/Insider77Circle/Quantum-Topology-Prox/auditlog"
	"github.com/Insider77Circle/Quantum-Topology-Prox/circuitstate"
	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
	"github.com/Insider77Circle/Quantum-Topology-Prox/control"
	"github.com/Insider77Circle/Quantum-Topology-Prox/debug"
	"github.com/Insider77Circle/Quantum-Topology-Prox/monitoring"
	"github.com/Insider77Circle/Quantum-Topology-Prox/qrng"
	"github.com/Insider77Circle/Quantum-Topology-Prox/seedpool"
	"github.com/Insider77Circle/Quantum-Topology-Prox/timing"
	"github.com/Insider77Circle/Quantum-Topology-Prox/torctl"
	"github.com/Insider77Circle/Quantum-Topology-Prox/utils"
	"github.com/Insider77Circle/Quantum-Topology-Prox/verifier"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Configuration is the JSON-loaded runtime profile. Every field has a
// constants-backed default; the file only overrides.
type Configuration struct {
	PoolSize          uint64  `json:"pool_size"`
	MinDelayMs        float64 `json:"min_delay_ms"`
	MaxDelayMs        float64 `json:"max_delay_ms"`
	MaxWinding        int64   `json:"max_winding"`
	CtrlAddr          string  `json:"ctrl_addr"`
	CtrlPassword      string  `json:"ctrl_password"`
	QRNGEndpoint      string  `json:"qrng_endpoint"`
	MetricsAddr       string  `json:"metrics_addr"`
	AuditPath         string  `json:"audit_path"`
	OperatorKey       string  `json:"operator_key"`
	EmergencyShutdown bool    `json:"emergency_shutdown"`
}

// loadConfiguration merges qtop.json (when present) over the defaults.
// A malformed file is a startup failure, never a silent fallback.
func loadConfiguration(path string) Configuration {
	cfg := Configuration{
		PoolSize:     constants.DefaultPoolSize,
		MinDelayMs:   constants.DefaultMinDelayMs,
		MaxDelayMs:   constants.DefaultMaxDelayMs,
		MaxWinding:   constants.MaxWindingMagnitude,
		CtrlAddr:     constants.CtrlDialAddr,
		QRNGEndpoint: constants.QRNGEndpoint,
		MetricsAddr:  constants.MetricsListenAddr,
		AuditPath:    "qtop_audit.db",
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			debug.DropMessage("CONFIG", "no "+path+", using defaults")
			return cfg
		}
		panic("Failed to read configuration " + path + ": " + err.Error())
	}
	if err := sonnet.Unmarshal(data, &cfg); err != nil {
		panic("Failed to parse configuration " + path + ": " + err.Error())
	}
	debug.DropMessage("CONFIG", "loaded "+path)
	return cfg
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAIN ORCHESTRATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// main orchestrates the complete system lifecycle in distinct phases.
// Construction errors panic: misconfiguration fails at startup, never
// at runtime.
func main() {
	// PHASE 0: Configuration
	cfg := loadConfiguration("qtop.json")

	// PHASE 1: Core construction
	pool, err := seedpool.New(cfg.PoolSize)
	if err != nil {
		panic("Seed pool construction failed: " + err.Error())
	}
	store := circuitstate.NewStore()

	audit, err := auditlog.Open(cfg.AuditPath)
	if err != nil {
		panic("Audit log open failed: " + err.Error())
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry,
		func() float64 { return float64(store.Len()) },
		pool.RemainingFreshness,
	)

	engineCfg := timing.Config{
		MinDelayMs:          cfg.MinDelayMs,
		MaxDelayMs:          cfg.MaxDelayMs,
		WindingQuantum:      constants.WindingQuantum,
		MaxWindingMagnitude: cfg.MaxWinding,
		Observer:            audit.Observe,
	}
	engine, err := timing.New(engineCfg, pool, store)
	if err != nil {
		panic("Timing engine construction failed: " + err.Error())
	}

	verifierCfg := verifier.DefaultConfig()
	verifierCfg.MaxWinding = cfg.MaxWinding
	verifierCfg.EmergencyShutdown = cfg.EmergencyShutdown
	verifierCfg.Trail = audit
	verif, err := verifier.New(verifierCfg, store)
	if err != nil {
		panic("Verifier construction failed: " + err.Error())
	}

	// PHASE 2: Seed preload with fallback, then personalization
	preloadSeeds(pool, cfg.QRNGEndpoint, metrics)
	if cfg.OperatorKey != "" {
		pool.MixIn([]byte(cfg.OperatorKey))
		debug.DropMessage("POOL", "operator key mixed in")
	}

	// PHASE 3: Background services
	audit.Start()
	verif.Start()
	go consumeViolations(verif, metrics)
	go refillScheduler(pool, cfg.QRNGEndpoint, metrics)
	go idleReaper(store)

	health := monitoring.NewHealthChecker()
	registerHealthChecks(health, pool, store)
	metricsSrv := monitoring.Serve(cfg.MetricsAddr, registry, health)

	debug.DropMessage("READY", "core initialized, "+utils.Utoa(pool.Generation())+" pool generation")

	setupSignalHandling()
	go teardownOnStop(verif, audit, metricsSrv)

	// PHASE 4: Control-port interception with reconnection
	for !control.IsShutdown() {
		if err := interceptEvents(cfg, engine, store, audit, verif, metrics); err != nil {
			debug.DropError("CTRL", err)
		}
		if !control.IsShutdown() {
			time.Sleep(time.Second)
		}
	}

	control.ShutdownWG.Wait()
	if control.IsEmergency() {
		debug.DropMessage("EXIT", "emergency shutdown complete")
		os.Exit(2)
	}
	debug.DropMessage("EXIT", "shutdown complete")
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SEED SUPPLY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// preloadSeeds fills the pool before interception starts. A reachable
// QRNG endpoint is preferred; after bounded retries the local SHAKE
// provider takes over. Only a broken local entropy source is fatal.
func preloadSeeds(pool *seedpool.Pool, endpoint string, metrics *monitoring.Metrics) {
	remote := qrng.NewHTTPProvider(endpoint)
	for attempt := 1; attempt <= 3; attempt++ {
		if err := pool.Refill(remote); err != nil {
			metrics.RefillFailures.Inc()
			debug.DropError("PRELOAD", err)
			time.Sleep(time.Duration(attempt) * time.Second)
			continue
		}
		metrics.SeedRefills.Inc()
		debug.DropMessage("PRELOAD", utils.Utoa(pool.Size())+" seeds from provider")
		return
	}

	debug.DropMessage("PRELOAD", "provider unreachable, using local entropy")
	if err := pool.Refill(qrng.LocalProvider{}); err != nil {
		panic("Local entropy refill failed: " + err.Error())
	}
	metrics.SeedRefills.Inc()
}

// refillScheduler refreshes the pool whenever remaining freshness drops
// below the threshold. Failures degrade to stale contents and surface
// through metrics; the hot path is never blocked.
func refillScheduler(pool *seedpool.Pool, endpoint string, metrics *monitoring.Metrics) {
	remote := qrng.NewHTTPProvider(endpoint)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if control.IsShutdown() {
			return
		}
		if pool.RemainingFreshness() >= constants.FreshnessRefillThreshold {
			continue
		}
		if err := pool.Refill(remote); err != nil {
			metrics.RefillFailures.Inc()
			debug.DropError("REFILL", err)
			continue
		}
		metrics.SeedRefills.Inc()
		debug.DropMessage("REFILL", "pool generation "+utils.Utoa(pool.Generation()))
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// BACKGROUND MAINTENANCE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// idleReaper evicts circuits untouched beyond the idle window.
func idleReaper(store *circuitstate.Store) {
	ticker := time.NewTicker(constants.ReapInterval)
	defer ticker.Stop()
	for range ticker.C {
		if control.IsShutdown() {
			return
		}
		control.PollCooldown()
		if n := store.ReapIdle(constants.IdleReapWindow); n > 0 {
			debug.DropMessage("REAP", utils.Itoa(n)+" idle circuits evicted")
		}
	}
}

// consumeViolations drains the verifier event stream into metrics and
// diagnostics.
func consumeViolations(v *verifier.Verifier, metrics *monitoring.Metrics) {
	for ev := range v.Events() {
		metrics.Violations.Inc()
		debug.DropMessage("VERIFIER",
			"circuit "+utils.Utoa(ev.CircuitID)+" invalid ("+ev.Reason+"), winding "+utils.Itoa(int(ev.Winding)))
	}
}

func registerHealthChecks(health *monitoring.HealthChecker, pool *seedpool.Pool, store *circuitstate.Store) {
	health.Register("seed_pool", func() (bool, string) {
		if pool.Generation() == 0 {
			return false, "pool never refilled"
		}
		return true, "freshness " + utils.Ftoa2(pool.RemainingFreshness())
	})
	health.Register("circuits", func() (bool, string) {
		return true, utils.Itoa(store.Len()) + " active"
	})
	health.Register("lifecycle", func() (bool, string) {
		if control.IsShutdown() {
			return false, "shutting down"
		}
		return true, "running"
	})
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// EVENT INTERCEPTION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// interceptEvents owns one control-port session: authenticate,
// subscribe, then perturb every new stream until the connection drops
// or shutdown is requested.
func interceptEvents(
	cfg Configuration,
	engine *timing.Engine,
	store *circuitstate.Store,
	audit *auditlog.Writer,
	v *verifier.Verifier,
	metrics *monitoring.Metrics,
) error {
	client, err := torctl.Dial(cfg.CtrlAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Authenticate(cfg.CtrlPassword); err != nil {
		return err
	}
	if err := client.Subscribe(); err != nil {
		return err
	}
	debug.DropMessage("CTRL", "interception active on "+cfg.CtrlAddr)

	return client.Run(torctl.Handlers{
		OnStream: func(ev torctl.Event) {
			if !torctl.IsNewStream(ev.Status) {
				return
			}
			fingerprint := utils.Mix64(ev.StreamID ^ utils.FoldBytes(ev.Target))
			delayMs, err := engine.ComputeDelay(ev.CircuitID, fingerprint)
			if err != nil {
				// Fail closed: no delay service means no forwarding nudge.
				debug.DropError("DELAY", err)
				return
			}

			time.Sleep(time.Duration(delayMs * float64(time.Millisecond)))
			metrics.RecordPacket(delayMs)

			// Synchronous audit for a circuit's first events catches setup
			// bugs before the periodic sweep would.
			if st := store.Lookup(ev.CircuitID); st != nil && st.Snapshot().Events <= constants.SyncCheckEvents {
				v.CheckCircuit(ev.CircuitID)
			}
		},
		OnCirc: func(ev torctl.Event) {
			if !torctl.IsCircuitGone(ev.Status) {
				return
			}
			store.Remove(ev.CircuitID)
			if err := audit.PurgeCircuit(ev.CircuitID); err != nil {
				debug.DropError("AUDIT_PURGE", err)
			}
			debug.DropMessage("CIRC", "circuit "+utils.Utoa(ev.CircuitID)+" closed, state removed")
		},
	})
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYSTEM LIFECYCLE MANAGEMENT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// setupSignalHandling latches the global stop flag on SIGINT/SIGTERM.
// The flag is the single shutdown trigger; teardownOnStop does the
// actual subsystem teardown whether the flag was raised here or by the
// verifier's emergency path.
func setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		debug.DropMessage("SIGNAL", "received interrupt, shutting down")
		control.Shutdown()
	}()
}

// teardownOnStop watches the global stop flag and, once latched, tears
// down every long-running subsystem: verifier sweep, audit flush
// pipeline, metrics server. The control-port reader unwinds on its own
// read-deadline poll of the same flag, so after this runs ShutdownWG
// drains and main can exit on the emergency path as well as on a signal.
func teardownOnStop(v *verifier.Verifier, audit *auditlog.Writer, metricsSrv interface{ Close() error }) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if !control.IsShutdown() {
			continue
		}
		v.Stop()
		audit.Stop()
		metricsSrv.Close()
		return
	}
}
