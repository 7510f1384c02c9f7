// ════════════════════════════════════════════════════════════════════════════════════════════════
// Topological Timing Engine — Phase-Tracked Delay Derivation
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: Per-Circuit Delay Computation (Hot Path)
//
// Description:
//   Derives a delay for one (circuit, event) pair from the seed pool while preserving the
//   integer winding invariant across consecutive observations. The phase sequence a circuit
//   walks, taken modulo the winding quantum, decomposes into a continuous real-valued phase
//   whose accumulated whole turns stay integral; the engine tracks those turns and fails
//   closed the moment the accumulated magnitude leaves its configured bound.
//
// Timing discipline:
//   - Steps between the violation short-circuit and the returned delay are branch-light and
//     data-independent: index wrap by modulo, sign normalization by double-mod, clamping by
//     min/max intrinsics. No early return keyed on a phase, delta, or fingerprint value.
//   - Zero heap allocation after construction; one bounded critical section per call.
//
// Safety model:
//   - Construction validates the full configuration and fails fast
//   - The violation latch is terminal: every later call on that circuit fails closed until
//     the caller removes and recreates the circuit
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package timing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Insider77Circle/Quantum-Topology-Prox/circuitstate"
	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
	"github.com/Insider77Circle/Quantum-Topology-Prox/seedpool"
	"github.com/Insider77Circle/Quantum-Topology-Prox/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ERROR DEFINITIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

var (
	// ErrCircuitInvalid reports the fail-closed path: the circuit's
	// violation latch is set and no timing service is provided until the
	// caller removes and recreates the circuit.
	ErrCircuitInvalid = errors.New("circuit invalid: violation latch set")

	// ErrWindingOverflow reports that this call pushed |cumulative
	// winding| past the configured bound. The latch is set before the
	// error returns, so the next call fails with ErrCircuitInvalid.
	ErrWindingOverflow = errors.New("cumulative winding exceeded configured magnitude")

	// ErrConfig reports an invalid engine configuration at construction.
	ErrConfig = errors.New("invalid timing configuration")
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Config carries the delay envelope and winding bounds. Delays are in
// milliseconds, the quantum in radians.
type Config struct {
	MinDelayMs          float64
	MaxDelayMs          float64
	WindingQuantum      float64
	MaxWindingMagnitude int64

	// Observer, when non-nil, is invoked after every successful advance
	// with the circuit's new phase, winding, and the returned delay.
	// Used to feed the audit trail and metrics; must not block.
	Observer func(circuitID uint64, phase float64, winding int64, delayMs float64)
}

// DefaultConfig returns the production envelope from constants.
func DefaultConfig() Config {
	return Config{
		MinDelayMs:          constants.DefaultMinDelayMs,
		MaxDelayMs:          constants.DefaultMaxDelayMs,
		WindingQuantum:      constants.WindingQuantum,
		MaxWindingMagnitude: constants.MaxWindingMagnitude,
	}
}

func (c Config) validate() error {
	switch {
	case c.MinDelayMs <= 0 || math.IsNaN(c.MinDelayMs) || math.IsInf(c.MinDelayMs, 0):
		return fmt.Errorf("%w: min delay %v", ErrConfig, c.MinDelayMs)
	case c.MaxDelayMs < c.MinDelayMs || math.IsNaN(c.MaxDelayMs) || math.IsInf(c.MaxDelayMs, 0):
		return fmt.Errorf("%w: max delay %v < min delay %v", ErrConfig, c.MaxDelayMs, c.MinDelayMs)
	case c.WindingQuantum <= 0 || math.IsNaN(c.WindingQuantum) || math.IsInf(c.WindingQuantum, 0):
		return fmt.Errorf("%w: winding quantum %v", ErrConfig, c.WindingQuantum)
	case c.MaxWindingMagnitude <= 0:
		return fmt.Errorf("%w: max winding magnitude %d", ErrConfig, c.MaxWindingMagnitude)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ENGINE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Status classifies a circuit for callers of ViolationStatus.
type Status uint8

const (
	StatusActive Status = iota
	StatusInvalid
)

func (s Status) String() string {
	if s == StatusInvalid {
		return "invalid"
	}
	return "active"
}

// Engine binds the seed pool and circuit store to one delay envelope.
// All fields are immutable after New; the engine itself carries no
// mutable state, so one instance serves every worker.
type Engine struct {
	cfg     Config
	pool    *seedpool.Pool
	store   *circuitstate.Store
	span    float64 // MaxDelayMs - MinDelayMs, precomputed
	invQ    float64 // 1 / WindingQuantum, precomputed
	maxMag  int64
	observe func(uint64, float64, int64, float64)
}

// New validates the configuration and binds the collaborators.
// Misconfiguration is a construction-time failure; ComputeDelay has no
// configuration error path.
func New(cfg Config, pool *seedpool.Pool, store *circuitstate.Store) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if pool == nil || store == nil {
		return nil, fmt.Errorf("%w: nil pool or store", ErrConfig)
	}
	return &Engine{
		cfg:     cfg,
		pool:    pool,
		store:   store,
		span:    cfg.MaxDelayMs - cfg.MinDelayMs,
		invQ:    1 / cfg.WindingQuantum,
		maxMag:  cfg.MaxWindingMagnitude,
		observe: cfg.Observer,
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HOT PATH
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// ComputeDelay derives the perturbation delay in milliseconds for one
// event on one circuit and advances that circuit's phase record.
//
// SEQUENCE:
//  1. Violation short-circuit (intentional control path, not secret-dependent)
//  2. Index derivation: rotate(circuit XOR fingerprint, 32), wrapped by the pool
//  3. Phase mapping into [0, quantum)
//  4. Delta normalization to [0, quantum) via double-mod (branch-free)
//  5. Winding contribution k = round(delta/quantum), accumulated integrally
//  6. Delay = min + (delta/quantum)·(max−min), clamped by intrinsics
//  7. Magnitude bound check → violation latch + fail-closed error
//
// Calls racing on the same circuit serialize on the circuit's mutex in
// an unspecified but consistent order; callers that care about event
// order must serialize per circuit themselves.
func (e *Engine) ComputeDelay(circuitID, fingerprint uint64) (float64, error) {
	st := e.store.GetOrCreate(circuitID)

	st.Mu.Lock()
	if st.Violated {
		st.Mu.Unlock()
		return 0, ErrCircuitInvalid
	}

	index := utils.Rotl64(circuitID^fingerprint, 32)
	value := e.pool.Get(index)

	phase := value * e.cfg.WindingQuantum
	delta := math.Mod(math.Mod(phase-st.LastPhase, e.cfg.WindingQuantum)+e.cfg.WindingQuantum, e.cfg.WindingQuantum)
	k := int64(math.Round(delta * e.invQ))

	st.LastPhase = phase
	st.Winding += k
	st.Events++
	st.LastTouch = time.Now().UnixNano()

	delay := math.Min(math.Max(e.cfg.MinDelayMs+delta*e.invQ*e.span, e.cfg.MinDelayMs), e.cfg.MaxDelayMs)

	if st.Winding > e.maxMag || st.Winding < -e.maxMag {
		st.Violated = true
		st.Violations++
		st.Mu.Unlock()
		return 0, ErrWindingOverflow
	}

	winding := st.Winding
	st.Mu.Unlock()

	if e.observe != nil {
		e.observe(circuitID, phase, winding, delay)
	}
	return delay, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STATUS QUERIES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// ViolationStatus classifies the circuit. Unknown circuits report
// active: they have no history to have violated. Repeated calls without
// intervening advances return the same result.
func (e *Engine) ViolationStatus(circuitID uint64) Status {
	st := e.store.Lookup(circuitID)
	if st == nil || !st.IsViolated() {
		return StatusActive
	}
	return StatusInvalid
}

// Quantum exposes the configured winding quantum for collaborators
// that re-derive phases (verifier audit replay).
func (e *Engine) Quantum() float64 { return e.cfg.WindingQuantum }

// MaxWinding exposes the configured magnitude bound.
func (e *Engine) MaxWinding() int64 { return e.maxMag }
