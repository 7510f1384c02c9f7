// Package circuitstate tests cover the per-circuit record semantics
// (violation latch, snapshots) and the sharded store's creation,
// removal, idle-reap, and race behavior.
package circuitstate

import (
	"sync"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// ░░ State Record ░░
// -----------------------------------------------------------------------------

func TestFreshStateZeroed(t *testing.T) {
	s := NewStore()
	st := s.GetOrCreate(7)
	snap := st.Snapshot()
	if snap.ID != 7 || snap.LastPhase != 0 || snap.Winding != 0 || snap.Violated {
		t.Fatalf("fresh state should be zeroed: %+v", snap)
	}
	if snap.LastTouch == 0 {
		t.Fatal("fresh state should carry a creation timestamp")
	}
}

func TestMarkViolatedLatches(t *testing.T) {
	st := &State{ID: 1}
	if !st.MarkViolated() {
		t.Fatal("first mark should report the ACTIVE→INVALID transition")
	}
	if st.MarkViolated() {
		t.Fatal("second mark should be idempotent")
	}
	snap := st.Snapshot()
	if !snap.Violated || snap.Violations != 2 {
		t.Fatalf("latch should hold and count every detection: %+v", snap)
	}
	if !st.IsViolated() {
		t.Fatal("IsViolated should observe the latch")
	}
}

func TestTouchAdvancesClock(t *testing.T) {
	st := &State{ID: 1, LastTouch: 1}
	st.Touch()
	if snap := st.Snapshot(); snap.LastTouch <= 1 {
		t.Fatalf("Touch should refresh LastTouch, got %d", snap.LastTouch)
	}
}

// -----------------------------------------------------------------------------
// ░░ Store Creation & Lookup ░░
// -----------------------------------------------------------------------------

func TestGetOrCreateStable(t *testing.T) {
	s := NewStore()
	a := s.GetOrCreate(42)
	b := s.GetOrCreate(42)
	if a != b {
		t.Fatal("repeated GetOrCreate must return the same record")
	}
	if s.Lookup(42) != a {
		t.Fatal("Lookup must find the created record")
	}
	if s.Lookup(43) != nil {
		t.Fatal("Lookup must not create records")
	}
}

func TestGetOrCreateRace(t *testing.T) {
	// Many workers race the first event of the same circuit; exactly one
	// State object may win.
	s := NewStore()
	const workers = 32
	results := make([]*State, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			results[w] = s.GetOrCreate(99)
		}(w)
	}
	wg.Wait()
	for w := 1; w < workers; w++ {
		if results[w] != results[0] {
			t.Fatal("racing creators must converge on one State")
		}
	}
	if s.Len() != 1 {
		t.Fatalf("store should hold exactly one circuit, got %d", s.Len())
	}
}

func TestRemoveResetsHistory(t *testing.T) {
	s := NewStore()
	st := s.GetOrCreate(5)
	st.MarkViolated()

	s.Remove(5)
	if s.Lookup(5) != nil {
		t.Fatal("removed circuit must not be found")
	}

	// Recreation starts a fresh record — the only way out of the latch.
	fresh := s.GetOrCreate(5)
	if fresh == st {
		t.Fatal("recreated circuit must be a new record")
	}
	if fresh.IsViolated() {
		t.Fatal("recreated circuit must start unviolated")
	}
}

func TestLenAcrossShards(t *testing.T) {
	s := NewStore()
	for id := uint64(0); id < 500; id++ {
		s.GetOrCreate(id)
	}
	if s.Len() != 500 {
		t.Fatalf("Len = %d, want 500", s.Len())
	}
	s.Remove(0)
	s.Remove(499)
	if s.Len() != 498 {
		t.Fatalf("Len after removal = %d, want 498", s.Len())
	}
}

// -----------------------------------------------------------------------------
// ░░ Scans ░░
// -----------------------------------------------------------------------------

func TestSnapshotAll(t *testing.T) {
	s := NewStore()
	ids := []uint64{1, 2, 3, 1 << 40, ^uint64(0)}
	for _, id := range ids {
		s.GetOrCreate(id)
	}
	snaps := s.SnapshotAll()
	if len(snaps) != len(ids) {
		t.Fatalf("SnapshotAll returned %d records, want %d", len(snaps), len(ids))
	}
	seen := make(map[uint64]bool, len(snaps))
	for _, snap := range snaps {
		seen[snap.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("circuit %d missing from snapshot", id)
		}
	}
}

func TestReapIdle(t *testing.T) {
	s := NewStore()
	stale := s.GetOrCreate(1)
	stale.Mu.Lock()
	stale.LastTouch = time.Now().Add(-time.Hour).UnixNano()
	stale.Mu.Unlock()

	live := s.GetOrCreate(2)
	live.Touch()

	if reaped := s.ReapIdle(30 * time.Minute); reaped != 1 {
		t.Fatalf("reaped %d circuits, want 1", reaped)
	}
	if s.Lookup(1) != nil {
		t.Fatal("stale circuit should be gone")
	}
	if s.Lookup(2) == nil {
		t.Fatal("live circuit should survive")
	}
}

func TestReapIdleTakesViolated(t *testing.T) {
	s := NewStore()
	st := s.GetOrCreate(1)
	st.MarkViolated()
	st.Mu.Lock()
	st.LastTouch = time.Now().Add(-time.Hour).UnixNano()
	st.Mu.Unlock()

	if reaped := s.ReapIdle(time.Minute); reaped != 1 {
		t.Fatalf("violated idle circuit should be reaped, got %d", reaped)
	}
}

// -----------------------------------------------------------------------------
// ░░ Benchmarks ░░
// -----------------------------------------------------------------------------

func BenchmarkGetOrCreateHit(b *testing.B) {
	s := NewStore()
	s.GetOrCreate(123)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.GetOrCreate(123)
	}
}

func BenchmarkGetOrCreateParallel(b *testing.B) {
	s := NewStore()
	b.RunParallel(func(pb *testing.PB) {
		id := uint64(0)
		for pb.Next() {
			s.GetOrCreate(id % 1024)
			id++
		}
	})
}
