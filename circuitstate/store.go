// ════════════════════════════════════════════════════════════════════════════════════════════════
// Circuit Store — Sharded Concurrent State Map
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: Circuit-ID → State Arena
//
// Description:
//   Concurrent map from circuit identifier to its exclusively-owned State. Sharded by a mixed
//   hash of the id so unrelated circuits land on different locks. Insert-if-absent under the
//   shard lock guarantees at most one State object ever exists per id, even when many workers
//   race the first event of a new circuit.
//
// Design Principles:
//   - Power-of-2 shard count, avalanche-mixed shard selection
//   - Snapshot scans take one shard lock at a time; per-circuit copies are internally
//     consistent, global cross-circuit consistency is not promised (and not needed)
//   - Remove destroys history on purpose: a recreated circuit starts a fresh invariant record
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package circuitstate

import (
	"sync"
	"time"

	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
	"github.com/Insider77Circle/Quantum-Topology-Prox/utils"
)

const (
	shardCount = 1 << constants.StoreShardBits
	shardMask  = shardCount - 1
)

// shard pairs one lock with one id→state map.
type shard struct {
	mu sync.RWMutex
	m  map[uint64]*State
}

// Store is the sharded circuit-state arena.
type Store struct {
	shards [shardCount]shard
}

// NewStore constructs an empty store with all shards initialized.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].m = make(map[uint64]*State)
	}
	return s
}

//go:inline
func (s *Store) shardFor(circuitID uint64) *shard {
	return &s.shards[utils.Mix64(circuitID)&shardMask]
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CORE OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// GetOrCreate returns the State for circuitID, creating a fresh record
// (phase 0, winding 0, no violation) on first reference. The fast path
// is a read-locked lookup; creation re-checks under the write lock so
// racing first-accessors converge on a single State object.
func (s *Store) GetOrCreate(circuitID uint64) *State {
	sh := s.shardFor(circuitID)

	sh.mu.RLock()
	st := sh.m[circuitID]
	sh.mu.RUnlock()
	if st != nil {
		return st
	}

	sh.mu.Lock()
	if st = sh.m[circuitID]; st == nil {
		st = &State{ID: circuitID, LastTouch: time.Now().UnixNano()}
		sh.m[circuitID] = st
	}
	sh.mu.Unlock()
	return st
}

// Lookup returns the State for circuitID without creating one.
func (s *Store) Lookup(circuitID uint64) *State {
	sh := s.shardFor(circuitID)
	sh.mu.RLock()
	st := sh.m[circuitID]
	sh.mu.RUnlock()
	return st
}

// Remove destroys the circuit's state. A later GetOrCreate starts fresh
// history; this is the only transition out of the INVALID latch.
func (s *Store) Remove(circuitID uint64) {
	sh := s.shardFor(circuitID)
	sh.mu.Lock()
	delete(sh.m, circuitID)
	sh.mu.Unlock()
}

// Len counts active circuits across all shards.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SCAN OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// SnapshotAll copies every circuit's state. Each copy is taken under
// that circuit's own lock; shard locks are held only long enough to
// collect pointers, so a long scan never stalls the hot path.
func (s *Store) SnapshotAll() []Snapshot {
	states := make([]*State, 0, 64)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, st := range sh.m {
			states = append(states, st)
		}
		sh.mu.RUnlock()
	}

	out := make([]Snapshot, 0, len(states))
	for _, st := range states {
		out = append(out, st.Snapshot())
	}
	return out
}

// ReapIdle removes circuits whose last advance is older than the
// window. Returns the number of records reaped. Violated circuits are
// reaped like any other — their history is already terminal.
func (s *Store) ReapIdle(window time.Duration) int {
	cutoff := time.Now().Add(-window).UnixNano()
	reaped := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, st := range sh.m {
			st.Mu.Lock()
			idle := st.LastTouch < cutoff
			st.Mu.Unlock()
			if idle {
				delete(sh.m, id)
				reaped++
			}
		}
		sh.mu.Unlock()
	}
	return reaped
}
