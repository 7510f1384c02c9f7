// ════════════════════════════════════════════════════════════════════════════════════════════════
// Invariant Verifier — Continuous Winding Audit
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: Fail-Closed Invariant Enforcement
//
// Description:
//   Independently audits circuit snapshots on a schedule. A circuit passes when its stored
//   winding quantity is integral within tolerance, its magnitude is inside the configured
//   bound, and its last phase lies in the legal [0, quantum) domain. When an audit trail is
//   attached the verifier additionally replays the persisted phase history and recomputes the
//   winding from scratch; a mismatch is a violation even when the in-memory record looks sane.
//
// State machine per circuit: ACTIVE → (violation detected) → INVALID, terminal. Only an
// explicit Remove+recreate by the external caller starts a fresh record.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package verifier

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Insider77Circle/Quantum-Topology-Prox/circuitstate"
	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
	"github.com/Insider77Circle/Quantum-Topology-Prox/control"
	"github.com/Insider77Circle/Quantum-Topology-Prox/debug"
	"github.com/Insider77Circle/Quantum-Topology-Prox/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ERROR & EVENT DEFINITIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// ErrConfig reports an invalid verifier configuration at construction.
var ErrConfig = errors.New("invalid verifier configuration")

// Violation is one detected invariant breach, emitted on the event
// stream for orchestration and monitoring collaborators.
type Violation struct {
	CircuitID  uint64
	Winding    int64
	Violations uint64
	Reason     string
	Timestamp  time.Time
}

// TrailAuditor replays a circuit's persisted phase history and returns
// the independently recomputed winding plus the number of records
// replayed. Implemented by the audit log; optional — without it the
// verifier audits in-memory quantities only. The record count lets the
// verifier distinguish a trail that disagrees from a trail that merely
// has not caught up: the audit writer flushes in batches, so a short
// replay is expected on live circuits, not evidence of a violation.
type TrailAuditor interface {
	ReplayWinding(circuitID uint64, quantum float64) (winding int64, events uint64, err error)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Config carries the sweep cadence, the float tolerance, and the
// escalation policy.
type Config struct {
	CheckInterval     time.Duration
	Tolerance         float64
	MaxWinding        int64
	Quantum           float64
	EmergencyShutdown bool         // latch the global stop flag on any violation
	Trail             TrailAuditor // optional independent audit source
}

// DefaultConfig returns the production audit settings from constants.
func DefaultConfig() Config {
	return Config{
		CheckInterval: constants.VerifierInterval,
		Tolerance:     constants.WindingTolerance,
		MaxWinding:    constants.MaxWindingMagnitude,
		Quantum:       constants.WindingQuantum,
	}
}

func (c Config) validate() error {
	switch {
	case c.CheckInterval <= 0:
		return fmt.Errorf("%w: check interval %v", ErrConfig, c.CheckInterval)
	case c.Tolerance <= 0 || math.IsNaN(c.Tolerance):
		return fmt.Errorf("%w: tolerance %v", ErrConfig, c.Tolerance)
	case c.MaxWinding <= 0:
		return fmt.Errorf("%w: max winding %d", ErrConfig, c.MaxWinding)
	case c.Quantum <= 0 || math.IsNaN(c.Quantum) || math.IsInf(c.Quantum, 0):
		return fmt.Errorf("%w: quantum %v", ErrConfig, c.Quantum)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// VERIFIER
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Verifier owns the background sweep and the violation event stream.
type Verifier struct {
	cfg    Config
	store  *circuitstate.Store
	events chan Violation
	stopCh chan struct{}
}

// New validates the configuration and binds the store.
func New(cfg Config, store *circuitstate.Store) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	return &Verifier{
		cfg:    cfg,
		store:  store,
		events: make(chan Violation, constants.ViolationEventBuffer),
		stopCh: make(chan struct{}),
	}, nil
}

// Events exposes the violation stream. The channel is buffered; when a
// consumer falls behind, events are dropped rather than stalling the
// sweep — the violation latch itself is never dropped.
func (v *Verifier) Events() <-chan Violation { return v.events }

// Start launches the periodic sweep goroutine. Registered with the
// global ShutdownWG; Stop or the global stop flag terminates it.
func (v *Verifier) Start() {
	control.ShutdownWG.Add(1)
	go v.run()
}

// Stop terminates the sweep goroutine. Idempotent against a prior
// global shutdown; safe to call once per Start.
func (v *Verifier) Stop() {
	select {
	case <-v.stopCh:
	default:
		close(v.stopCh)
	}
}

func (v *Verifier) run() {
	defer control.ShutdownWG.Done()
	ticker := time.NewTicker(v.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			if control.IsShutdown() {
				return
			}
			v.Sweep()
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// AUDIT CORE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Sweep snapshots every circuit and audits each copy. Returns the
// number of violations detected in this pass. Exposed for synchronous
// use: callers audit the first events of a new circuit inline before
// trusting the periodic cadence.
func (v *Verifier) Sweep() int {
	detected := 0
	for _, snap := range v.store.SnapshotAll() {
		if v.auditSnapshot(snap) {
			detected++
		}
	}
	return detected
}

// CheckCircuit audits one circuit immediately. Returns true when the
// circuit is healthy (or unknown), false when a violation was detected
// or the latch was already set.
func (v *Verifier) CheckCircuit(circuitID uint64) bool {
	st := v.store.Lookup(circuitID)
	if st == nil {
		return true
	}
	snap := st.Snapshot()
	if snap.Violated {
		return false
	}
	return !v.auditSnapshot(snap)
}

// auditSnapshot applies every audit rule to one consistent copy and
// escalates on the first failure. Returns true when a violation was
// detected on this pass.
func (v *Verifier) auditSnapshot(snap circuitstate.Snapshot) bool {
	if snap.Violated {
		// Already latched; terminal, nothing to re-detect.
		return false
	}

	if reason := v.auditReason(snap); reason != "" {
		v.flag(snap.ID, reason)
		return true
	}
	return false
}

// auditReason returns the first failed audit rule, or "" when the
// snapshot is consistent.
func (v *Verifier) auditReason(snap circuitstate.Snapshot) string {
	// Phase domain: every advance normalizes into [0, quantum). A value
	// outside that range, NaN, or Inf means the record was corrupted.
	if math.IsNaN(snap.LastPhase) || math.IsInf(snap.LastPhase, 0) ||
		snap.LastPhase < 0 || snap.LastPhase >= v.cfg.Quantum {
		return "phase outside legal domain"
	}

	// Integrality: reconstruct the continuous phase from the decomposition
	// (whole turns plus the in-period remainder) and re-derive the turn
	// count. Windings large enough to lose the remainder in the float64
	// mantissa surface here as a non-integer turn quantity.
	continuous := float64(snap.Winding)*v.cfg.Quantum + snap.LastPhase
	turns := (continuous - snap.LastPhase) / v.cfg.Quantum
	if math.Abs(turns-math.Round(turns)) > v.cfg.Tolerance {
		return "winding deviates from integer"
	}

	// Magnitude bound, re-validated independently of the engine.
	if snap.Winding > v.cfg.MaxWinding || snap.Winding < -v.cfg.MaxWinding {
		return "winding magnitude bound exceeded"
	}

	// Independent trail replay when an audit log is attached. The replay
	// is judged only when the trail holds exactly the circuit's event
	// count: a shorter trail is still being flushed (or lost records to
	// queue saturation) and proves nothing; a longer one is stale rows
	// from a prior incarnation awaiting purge. Trail read errors degrade
	// to the in-memory audit; the trail is a collaborator and its
	// failure must not invalidate circuits.
	if v.cfg.Trail != nil && snap.Events > 0 {
		replayed, events, err := v.cfg.Trail.ReplayWinding(snap.ID, v.cfg.Quantum)
		if err == nil && events == snap.Events && replayed != snap.Winding {
			return "audit trail winding mismatch"
		}
	}
	return ""
}

// flag latches the violation, emits the event, and escalates per the
// configured policy. Per-circuit failures stay isolated: nothing here
// touches any other circuit or the pool.
func (v *Verifier) flag(circuitID uint64, reason string) {
	st := v.store.Lookup(circuitID)
	if st == nil {
		return
	}
	st.MarkViolated()
	snap := st.Snapshot()

	debug.DropMessage("VIOLATION", "circuit "+utils.Utoa(circuitID)+": "+reason)

	ev := Violation{
		CircuitID:  circuitID,
		Winding:    snap.Winding,
		Violations: snap.Violations,
		Reason:     reason,
		Timestamp:  time.Now(),
	}
	select {
	case v.events <- ev:
	default:
		// Consumer behind; the latch is authoritative, the event is advisory.
	}

	if v.cfg.EmergencyShutdown {
		debug.DropMessage("EMERGENCY", "invariant violation triggered shutdown")
		control.Emergency()
	}
}
