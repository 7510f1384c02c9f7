// ════════════════════════════════════════════════════════════════════════════════════════════════
// Seed Pool — Lock-Free Uniform Randomness Cache
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: Pre-Generated Seed Supply
//
// Description:
//   Fixed-capacity cache of 64-bit seed values shared by every timing-engine caller. Reads are
//   lock-free: the backing array is immutable once published and swapped atomically on refill,
//   so a Get never blocks behind a refill for longer than a pointer load. Refill and mix-in
//   build replacement arrays off to the side and publish all-or-nothing.
//
// Design Principles:
//   - Index wrap via modulo, never rejection — the hot path has no failure mode
//   - Copy-on-refill: readers observe fully-old or fully-new contents, never torn values
//   - Mix-in uses a fixed-output keyed primitive (BLAKE2b) so caller entropy of any length
//     personalizes the pool deterministically
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package seedpool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ERROR DEFINITIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

var (
	// ErrPoolSize indicates a capacity outside [MinPoolSize, MaxPoolSize].
	// Surfaced at construction only; the hot path never sees it.
	ErrPoolSize = errors.New("seed pool capacity out of range")

	// ErrSourceExhausted indicates the provider returned fewer values than
	// the pool capacity. The previous contents are retained.
	ErrSourceExhausted = errors.New("seed source exhausted before pool capacity")

	// ErrSourceUnavailable indicates the provider failed outright (network,
	// timeout, malformed response). The previous contents are retained.
	ErrSourceUnavailable = errors.New("seed source unavailable")
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// EXTERNAL PROVIDER CONTRACT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Source supplies bulk seed material for refills. Implementations may
// block (network providers) — Refill is a cold path. A Source must
// return exactly count values or an error; short reads are treated as
// exhaustion by the pool.
type Source interface {
	Fetch(count int) ([]uint64, error)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// POOL STRUCTURE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Pool owns the published seed array and its consumption counters.
//
// CONCURRENCY:
//
//	Get is lock-free and safe from any number of goroutines. Refill and
//	MixIn serialize on refillMu, build a replacement array privately,
//	and publish it with a single atomic store.
type Pool struct {
	seeds      atomic.Pointer[[]uint64] // published backing array, immutable once stored
	size       uint64                   // fixed capacity, set at construction
	cursor     atomic.Uint64            // reads since last refill, drives freshness
	generation atomic.Uint64            // bulk-refill counter (0 = never refilled)
	hits       atomic.Uint64            // reads served from provider-filled contents
	misses     atomic.Uint64            // reads served before the first refill
	refillMu   sync.Mutex               // serializes refill / mix-in writers
}

// New constructs a pool of the given capacity with zeroed contents.
// Reads before the first refill are legal (they count as misses and
// return the zero mapping) so the hot path never depends on provider
// availability. Capacity outside the configured bounds fails fast.
func New(size uint64) (*Pool, error) {
	if size < constants.MinPoolSize || size > constants.MaxPoolSize {
		return nil, fmt.Errorf("%w: %d", ErrPoolSize, size)
	}
	p := &Pool{size: size}
	backing := make([]uint64, size)
	p.seeds.Store(&backing)
	return p, nil
}

// NewFrom constructs a pre-filled pool from the caller's seed slice.
// The slice is copied; the pool starts at generation 1 as if one refill
// had completed. Used for deterministic replay and tests.
func NewFrom(seeds []uint64) (*Pool, error) {
	p, err := New(uint64(len(seeds)))
	if err != nil {
		return nil, err
	}
	backing := make([]uint64, len(seeds))
	copy(backing, seeds)
	p.seeds.Store(&backing)
	p.generation.Store(1)
	return p, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HOT PATH
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Get returns the pool entry at index mod capacity, mapped uniformly to
// [0,1). Out-of-range indexes wrap — there is no rejection path, which
// keeps the timing engine's step data-independent. One atomic pointer
// load, one array read, no locks, no allocations.
//
//go:nosplit
//go:inline
func (p *Pool) Get(index uint64) float64 {
	backing := *p.seeds.Load()
	v := backing[index%p.size]
	p.cursor.Add(1)
	if p.generation.Load() == 0 {
		p.misses.Add(1)
	} else {
		p.hits.Add(1)
	}
	// Top 53 bits fill the full double mantissa; result is in [0,1).
	return float64(v>>11) * (1.0 / (1 << 53))
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// REFILL & PERSONALIZATION (COLD PATH)
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Refill replaces the entire backing array from the source, all or
// nothing. On any failure the previously published array stays live and
// the error classifies the cause: short read → ErrSourceExhausted,
// provider failure → ErrSourceUnavailable. Success bumps the generation
// counter and resets the freshness cursor.
func (p *Pool) Refill(source Source) error {
	p.refillMu.Lock()
	defer p.refillMu.Unlock()

	fetched, err := source.Fetch(int(p.size))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if uint64(len(fetched)) < p.size {
		return fmt.Errorf("%w: got %d of %d", ErrSourceExhausted, len(fetched), p.size)
	}

	// Build the replacement off to the side, then publish in one store.
	backing := make([]uint64, p.size)
	copy(backing, fetched[:p.size])
	p.seeds.Store(&backing)
	p.generation.Add(1)
	p.cursor.Store(0)
	return nil
}

// MixIn folds caller entropy into every pool entry through a keyed
// BLAKE2b mixing step. The caller material is first compressed to a
// fixed-width key, so arbitrary-length input drives a fixed-output
// primitive. Deterministic: the same entropy applied to the same pool
// contents yields the same result. The generation counter is untouched;
// mix-in personalizes, it does not refill.
func (p *Pool) MixIn(entropy []byte) {
	p.refillMu.Lock()
	defer p.refillMu.Unlock()

	key := blake2b.Sum256(entropy)
	old := *p.seeds.Load()
	backing := make([]uint64, p.size)

	var block [48]byte
	copy(block[:32], key[:])
	for i := uint64(0); i < p.size; i++ {
		binary.LittleEndian.PutUint64(block[32:40], old[i])
		binary.LittleEndian.PutUint64(block[40:48], i)
		sum := blake2b.Sum256(block[:])
		backing[i] = binary.LittleEndian.Uint64(sum[:8])
	}
	p.seeds.Store(&backing)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HEALTH & ACCOUNTING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// RemainingFreshness reports the fraction of pool capacity not yet
// consumed since the last refill, in [0,1]. External schedulers compare
// it against a threshold to decide when to refill.
func (p *Pool) RemainingFreshness() float64 {
	used := p.cursor.Load()
	if used >= p.size {
		return 0
	}
	return 1 - float64(used)/float64(p.size)
}

// Size returns the fixed pool capacity.
func (p *Pool) Size() uint64 { return p.size }

// Generation returns the bulk-refill counter. Zero means the pool has
// never been refilled and reads are being served from zeroed contents.
func (p *Pool) Generation() uint64 { return p.generation.Load() }

// Hits returns reads served after at least one refill.
func (p *Pool) Hits() uint64 { return p.hits.Load() }

// Misses returns reads served from the zeroed pre-refill contents.
func (p *Pool) Misses() uint64 { return p.misses.Load() }
