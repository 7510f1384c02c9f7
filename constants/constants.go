// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Global tunables for the timing-perturbation core
//
// Purpose:
//   - Defines pool sizing bounds, delay envelope, winding limits, and the
//     verifier sweep cadence shared by every subsystem.
//   - Defines control-port and provider endpoints used at startup.
//
// Notes:
//   - Delay values are in milliseconds; phases are in radians.
//   - Pool sizing is bounded so misconfiguration fails at startup, never at
//     runtime.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

import (
	"math"
	"time"
)

// ───────────────────────────── Seed Pool ──────────────────────────────────

const (
	// MinPoolSize is the smallest legal seed-pool capacity. A pool of one
	// entry is degenerate but valid; zero is a construction error.
	MinPoolSize = 1

	// MaxPoolSize caps the seed pool at 10M entries (80 MiB of uint64s).
	// Larger pools stop improving index dispersion and start hurting the
	// refill path, which must rebuild the whole backing array per cycle.
	MaxPoolSize = 10_000_000

	// DefaultPoolSize balances refill cost against index dispersion for a
	// relay handling a few thousand concurrent circuits.
	DefaultPoolSize = 1 << 20 // 1,048,576 seeds = 8 MiB backing array

	// FreshnessRefillThreshold is the remaining-freshness fraction below
	// which the startup scheduler requests another refill.
	FreshnessRefillThreshold = 0.25
)

// ───────────────────────────── Timing Engine ──────────────────────────────

const (
	// DefaultMinDelayMs / DefaultMaxDelayMs bound the perturbation applied
	// to a single stream event. The floor keeps the perturbation observable
	// above scheduler jitter; the ceiling keeps interactive traffic usable.
	DefaultMinDelayMs = 0.1
	DefaultMaxDelayMs = 10.0

	// WindingQuantum is one full phase period. The engine operates modulo
	// this value; a circuit's cumulative winding counts whole periods.
	WindingQuantum = 2 * math.Pi

	// MaxWindingMagnitude bounds |cumulative winding| per circuit. A
	// crossing is an invariant violation and latches the circuit invalid.
	MaxWindingMagnitude = 1000
)

// ───────────────────────────── Verifier ───────────────────────────────────

const (
	// VerifierInterval is the default sweep cadence for the background
	// invariant audit.
	VerifierInterval = 250 * time.Millisecond

	// WindingTolerance is the floating-point integer-closeness epsilon used
	// when re-deriving winding quantities from phase history.
	WindingTolerance = 1e-9

	// SyncCheckEvents is the number of initial events per circuit that are
	// audited synchronously, catching setup bugs before the first sweep.
	SyncCheckEvents = 8

	// ViolationEventBuffer sizes the verifier's violation event channel.
	// Overflow drops events rather than stalling the sweep.
	ViolationEventBuffer = 256
)

// ───────────────────────────── Circuit Store ──────────────────────────────

const (
	// StoreShardBits sizes the circuit-state shard array: 2^6 = 64 shards.
	// Enough to keep unrelated circuits off each other's locks without
	// bloating the snapshot path.
	StoreShardBits = 6

	// IdleReapWindow is how long a circuit may go untouched before the
	// reaper evicts its state.
	IdleReapWindow = 30 * time.Minute

	// ReapInterval is the cadence of the idle-state reaper.
	ReapInterval = 1 * time.Minute
)

// ──────────────────────── Control Port (Tor) ──────────────────────────────

const (
	// CtrlDialAddr is the Tor control-port endpoint the interceptor
	// attaches to. Update to match the local tor configuration.
	CtrlDialAddr = "127.0.0.1:9051"

	// CtrlLineMax bounds a single control-port reply line. The control
	// protocol is line oriented; anything longer is a protocol error.
	CtrlLineMax = 4096

	// CtrlReadBuffer sizes the raw socket read buffer for event bursts.
	CtrlReadBuffer = 64 << 10 // 64 KiB

	// CtrlReadPoll bounds one blocking socket read so the reader can
	// re-check the global stop flag on a quiet control port. Shutdown
	// latency of the event loop is at most this.
	CtrlReadPoll = 250 * time.Millisecond
)

// ───────────────────────── QRNG Provider ──────────────────────────────────

const (
	// QRNGEndpoint is the HTTP seed-provider endpoint. The provider is
	// opaque and replaceable; this default targets an ANU-style JSON API.
	QRNGEndpoint = "https://qrng.anu.edu.au/API/jsonI.php"

	// QRNGFetchTimeout bounds one bulk fetch. A timed-out fetch is treated
	// as provider-unavailable and the pool keeps its previous contents.
	QRNGFetchTimeout = 10 * time.Second

	// QRNGMaxBatch is the largest block count requested per HTTP call;
	// larger refills are satisfied by repeated calls.
	QRNGMaxBatch = 1024
)

// ───────────────────────── Monitoring ─────────────────────────────────────

const (
	// MetricsListenAddr serves /metrics and /healthz.
	MetricsListenAddr = ":9090"
)

// ───────────────────────── Audit Log ──────────────────────────────────────

const (
	// AuditBatchSize is the number of phase records buffered before a
	// transactional flush to sqlite.
	AuditBatchSize = 512

	// AuditFlushInterval forces a flush of a partial batch so the on-disk
	// trail never lags a quiet circuit by more than this.
	AuditFlushInterval = 2 * time.Second
)
