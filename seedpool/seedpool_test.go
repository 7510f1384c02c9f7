// Package seedpool provides correctness tests for the lock-free seed
// cache: construction bounds, index wrapping, all-or-nothing refill,
// refill atomicity under concurrent readers, and keyed mix-in
// determinism.
package seedpool

import (
	"errors"
	"sync"
	"testing"

	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
)

// -----------------------------------------------------------------------------
// ░░ Test Sources ░░
// -----------------------------------------------------------------------------

// constantSource returns count copies of one value.
type constantSource uint64

func (c constantSource) Fetch(count int) ([]uint64, error) {
	out := make([]uint64, count)
	for i := range out {
		out[i] = uint64(c)
	}
	return out, nil
}

// shortSource returns fewer values than requested.
type shortSource struct{}

func (shortSource) Fetch(count int) ([]uint64, error) {
	return make([]uint64, count/2), nil
}

// failingSource simulates a provider outage.
type failingSource struct{}

func (failingSource) Fetch(int) ([]uint64, error) {
	return nil, errors.New("provider down")
}

// -----------------------------------------------------------------------------
// ░░ Construction Semantics ░░
// -----------------------------------------------------------------------------

func TestNewBounds(t *testing.T) {
	if _, err := New(0); !errors.Is(err, ErrPoolSize) {
		t.Fatalf("size 0 should fail with ErrPoolSize, got %v", err)
	}
	if _, err := New(constants.MaxPoolSize + 1); !errors.Is(err, ErrPoolSize) {
		t.Fatalf("oversized pool should fail with ErrPoolSize, got %v", err)
	}
	p, err := New(1)
	if err != nil {
		t.Fatalf("minimal pool should construct: %v", err)
	}
	if p.Size() != 1 || p.Generation() != 0 {
		t.Fatalf("fresh pool: size=%d gen=%d", p.Size(), p.Generation())
	}
}

func TestNewFromCopiesInput(t *testing.T) {
	seeds := []uint64{1 << 61, 2 << 61}
	p, err := NewFrom(seeds)
	if err != nil {
		t.Fatal(err)
	}
	before := p.Get(0)
	seeds[0] = 0 // caller mutation must not reach the pool
	if p.Get(0) != before {
		t.Fatal("NewFrom must copy the caller's slice")
	}
	if p.Generation() != 1 {
		t.Fatalf("pre-filled pool should start at generation 1, got %d", p.Generation())
	}
}

// -----------------------------------------------------------------------------
// ░░ Hot-Path Reads ░░
// -----------------------------------------------------------------------------

func TestGetMapsToUnitInterval(t *testing.T) {
	// Seeds i<<61 map to exactly i/8 under the 53-bit mantissa mapping.
	seeds := make([]uint64, 8)
	for i := range seeds {
		seeds[i] = uint64(i) << 61
	}
	p, _ := NewFrom(seeds)
	for i := 0; i < 8; i++ {
		want := float64(i) / 8
		if got := p.Get(uint64(i)); got != want {
			t.Fatalf("Get(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestGetWrapsIndex(t *testing.T) {
	seeds := []uint64{0, 1 << 61, 2 << 61, 3 << 61}
	p, _ := NewFrom(seeds)
	if p.Get(0) != p.Get(4) || p.Get(3) != p.Get(7) {
		t.Fatal("out-of-range indexes must wrap modulo capacity")
	}
	// Extreme index still wraps, never faults.
	_ = p.Get(^uint64(0))
}

func TestHitMissAccounting(t *testing.T) {
	p, _ := New(4)
	p.Get(0)
	if p.Misses() != 1 || p.Hits() != 0 {
		t.Fatalf("pre-refill read should count a miss: hits=%d misses=%d", p.Hits(), p.Misses())
	}
	if err := p.Refill(constantSource(7)); err != nil {
		t.Fatal(err)
	}
	p.Get(0)
	if p.Hits() != 1 {
		t.Fatalf("post-refill read should count a hit, hits=%d", p.Hits())
	}
}

// -----------------------------------------------------------------------------
// ░░ Refill Semantics ░░
// -----------------------------------------------------------------------------

func TestRefillAllOrNothing(t *testing.T) {
	p, _ := NewFrom([]uint64{42 << 11, 42 << 11})
	before := p.Get(0)

	if err := p.Refill(shortSource{}); !errors.Is(err, ErrSourceExhausted) {
		t.Fatalf("short source should fail with ErrSourceExhausted, got %v", err)
	}
	if err := p.Refill(failingSource{}); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("failing source should fail with ErrSourceUnavailable, got %v", err)
	}

	if p.Get(0) != before {
		t.Fatal("failed refill must retain previous contents")
	}
	if p.Generation() != 1 {
		t.Fatalf("failed refill must not bump generation, got %d", p.Generation())
	}
}

func TestRefillResetsFreshness(t *testing.T) {
	p, _ := New(10)
	for i := 0; i < 5; i++ {
		p.Get(uint64(i))
	}
	if f := p.RemainingFreshness(); f != 0.5 {
		t.Fatalf("freshness after half consumption = %v, want 0.5", f)
	}
	if err := p.Refill(constantSource(1)); err != nil {
		t.Fatal(err)
	}
	if f := p.RemainingFreshness(); f != 1 {
		t.Fatalf("freshness after refill = %v, want 1", f)
	}
}

func TestFreshnessFloorsAtZero(t *testing.T) {
	p, _ := New(2)
	for i := 0; i < 10; i++ {
		p.Get(uint64(i))
	}
	if f := p.RemainingFreshness(); f != 0 {
		t.Fatalf("over-consumed pool freshness = %v, want 0", f)
	}
}

// -----------------------------------------------------------------------------
// ░░ Refill Atomicity Under Concurrent Readers ░░
// -----------------------------------------------------------------------------

func TestRefillAtomicity(t *testing.T) {
	// Every entry of generation A maps to exactly 0.25; every entry of
	// generation B maps to exactly 0.75. A torn read would surface as
	// any other value.
	const (
		seedA = uint64(1) << 62 // 0.25 after mantissa mapping
		seedB = uint64(3) << 62 // 0.75
	)
	p, _ := NewFrom([]uint64{seedA, seedA, seedA, seedA})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	bad := make(chan float64, 1)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(offset uint64) {
			defer wg.Done()
			for i := uint64(0); ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				v := p.Get(i + offset)
				if v != 0.25 && v != 0.75 {
					select {
					case bad <- v:
					default:
					}
					return
				}
			}
		}(uint64(r) * 13)
	}

	for i := 0; i < 200; i++ {
		src := constantSource(seedB)
		if i%2 == 1 {
			src = constantSource(seedA)
		}
		if err := p.Refill(src); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case v := <-bad:
		t.Fatalf("reader observed torn value %v during refill", v)
	default:
	}
}

// -----------------------------------------------------------------------------
// ░░ Mix-In Personalization ░░
// -----------------------------------------------------------------------------

func TestMixInDeterminism(t *testing.T) {
	base := []uint64{10, 20, 30, 40}
	p1, _ := NewFrom(base)
	p2, _ := NewFrom(base)

	p1.MixIn([]byte("operator-key"))
	p2.MixIn([]byte("operator-key"))
	for i := uint64(0); i < 4; i++ {
		if p1.Get(i) != p2.Get(i) {
			t.Fatalf("identical entropy over identical contents diverged at %d", i)
		}
	}
}

func TestMixInChangesContents(t *testing.T) {
	base := []uint64{1 << 61, 2 << 61, 3 << 61}
	p, _ := NewFrom(base)
	before := []float64{p.Get(0), p.Get(1), p.Get(2)}

	p.MixIn([]byte("k"))
	changed := false
	for i := uint64(0); i < 3; i++ {
		if p.Get(i) != before[i] {
			changed = true
		}
	}
	if !changed {
		t.Fatal("mix-in left every entry unchanged")
	}
	if p.Generation() != 1 {
		t.Fatalf("mix-in must not bump generation, got %d", p.Generation())
	}
}

func TestMixInKeySeparation(t *testing.T) {
	base := []uint64{5, 6, 7, 8}
	p1, _ := NewFrom(base)
	p2, _ := NewFrom(base)
	p1.MixIn([]byte("key-one"))
	p2.MixIn([]byte("key-two"))

	same := true
	for i := uint64(0); i < 4; i++ {
		if p1.Get(i) != p2.Get(i) {
			same = false
		}
	}
	if same {
		t.Fatal("different keys should personalize differently")
	}
}

// -----------------------------------------------------------------------------
// ░░ Benchmarks ░░
// -----------------------------------------------------------------------------

func BenchmarkGet(b *testing.B) {
	p, _ := New(1 << 16)
	_ = p.Refill(constantSource(12345))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Get(uint64(i))
	}
}

func BenchmarkGetParallel(b *testing.B) {
	p, _ := New(1 << 16)
	_ = p.Refill(constantSource(12345))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := uint64(0)
		for pb.Next() {
			p.Get(i)
			i++
		}
	})
}
