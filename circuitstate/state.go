// ════════════════════════════════════════════════════════════════════════════════════════════════
// Circuit State — Per-Circuit Phase Tracking Records
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: Mutable Per-Circuit Timing State
//
// Description:
//   One State per active circuit: last observed phase, cumulative winding count, and the
//   terminal violation latch. Every mutation happens under the State's own mutex so unrelated
//   circuits never contend. The violation flag is a one-way latch — the only way out is
//   Store.Remove followed by recreation, which intentionally discards winding history.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package circuitstate

import (
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STATE RECORD
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// State is the mutable timing record for one circuit. All fields after
// Mu are guarded by Mu; holders keep the critical section bounded (one
// phase advance or one audit, never I/O).
type State struct {
	Mu sync.Mutex

	ID         uint64  // caller-assigned circuit identifier
	LastPhase  float64 // radians, [0, quantum) after every advance
	Winding    int64   // cumulative whole-period count, signed
	Violated   bool    // terminal latch; set by engine overflow or verifier audit
	Violations uint64  // detection counter, grows per audit hit
	Events     uint64  // phase advances applied to this circuit
	LastTouch  int64   // unix nanos of the last advance, drives idle reaping
}

// Snapshot is an internally consistent copy of one circuit's state,
// taken under the circuit's lock. Safe to inspect without coordination.
type Snapshot struct {
	ID         uint64
	LastPhase  float64
	Winding    int64
	Violated   bool
	Violations uint64
	Events     uint64
	LastTouch  int64
}

// Snapshot copies the record under its lock.
func (s *State) Snapshot() Snapshot {
	s.Mu.Lock()
	snap := Snapshot{
		ID:         s.ID,
		LastPhase:  s.LastPhase,
		Winding:    s.Winding,
		Violated:   s.Violated,
		Violations: s.Violations,
		Events:     s.Events,
		LastTouch:  s.LastTouch,
	}
	s.Mu.Unlock()
	return snap
}

// MarkViolated latches the violation flag and bumps the detection
// counter. Returns true when this call transitioned the circuit from
// ACTIVE to INVALID, false when it was already latched (idempotent).
func (s *State) MarkViolated() bool {
	s.Mu.Lock()
	first := !s.Violated
	s.Violated = true
	s.Violations++
	s.Mu.Unlock()
	return first
}

// IsViolated reports the latch without mutating anything.
func (s *State) IsViolated() bool {
	s.Mu.Lock()
	v := s.Violated
	s.Mu.Unlock()
	return v
}

// Touch refreshes the idle-reap clock. Called by the engine inside its
// critical section, exposed for callers that serialize externally.
func (s *State) Touch() {
	s.Mu.Lock()
	s.LastTouch = time.Now().UnixNano()
	s.Mu.Unlock()
}
