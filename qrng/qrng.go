// ════════════════════════════════════════════════════════════════════════════════════════════════
// QRNG Providers — Bulk Seed Sources Behind the Pool Refill Interface
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: Seed Acquisition
//
// Description:
//   Implementations of seedpool.Source. The HTTP provider pulls blocks from an ANU-style
//   JSON randomness API with bounded timeouts; the local provider expands OS entropy through
//   SHAKE256 for bulk material when no external API is reachable; the deterministic provider
//   expands a fixed seed for replay and tests. The pool treats every provider as opaque —
//   "quantum" here means externally supplied high-quality randomness, nothing more.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package qrng

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/sha3"

	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
	"github.com/Insider77Circle/Quantum-Topology-Prox/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ERROR DEFINITIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

var (
	// ErrBadResponse indicates the provider answered but the payload was
	// unusable (API failure flag, short data, malformed JSON).
	ErrBadResponse = errors.New("qrng provider returned unusable response")

	// ErrBadCount indicates a non-positive fetch count.
	ErrBadCount = errors.New("fetch count must be positive")
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HTTP PROVIDER
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// apiResponse mirrors the ANU-style JSON payload. Data entries are
// 16-nibble hex strings, one per 64-bit block.
type apiResponse struct {
	Type    string   `json:"type"`
	Length  int      `json:"length"`
	Data    []string `json:"data"`
	Success bool     `json:"success"`
}

// HTTPProvider fetches seed blocks from a remote randomness API.
// Fetches are cold-path and rate-limited by the remote side; the
// timeout bounds every call so a stalled provider degrades to a stale
// pool instead of a stalled refill.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProvider builds a provider against the given endpoint with the
// configured fetch timeout.
func NewHTTPProvider(endpoint string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: constants.QRNGFetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
			},
		},
	}
}

// Fetch pulls count 64-bit blocks, batching requests at QRNGMaxBatch.
// Any transport or payload failure aborts the whole fetch; the pool's
// all-or-nothing refill discards partial progress.
func (p *HTTPProvider) Fetch(count int) ([]uint64, error) {
	if count <= 0 {
		return nil, ErrBadCount
	}
	out := make([]uint64, 0, count)
	for len(out) < count {
		batch := count - len(out)
		if batch > constants.QRNGMaxBatch {
			batch = constants.QRNGMaxBatch
		}
		blocks, err := p.fetchBatch(batch)
		if err != nil {
			return nil, err
		}
		out = append(out, blocks...)
	}
	return out, nil
}

func (p *HTTPProvider) fetchBatch(batch int) ([]uint64, error) {
	url := p.endpoint + "?length=" + utils.Itoa(batch) + "&type=hex16&size=8"
	resp, err := p.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrBadResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, err
	}

	var parsed apiResponse
	if err := sonnet.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !parsed.Success || len(parsed.Data) < batch {
		return nil, fmt.Errorf("%w: success=%v entries=%d", ErrBadResponse, parsed.Success, len(parsed.Data))
	}

	blocks := make([]uint64, batch)
	for i := 0; i < batch; i++ {
		blocks[i] = utils.ParseHexN([]byte(parsed.Data[i]))
	}
	return blocks, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// LOCAL PROVIDER
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// LocalProvider expands fresh OS entropy through SHAKE256. Fallback
// when no external randomness API is reachable; every Fetch draws a new
// 32-byte seed from crypto/rand.
type LocalProvider struct{}

// Fetch expands a fresh OS seed into count 64-bit blocks.
func (LocalProvider) Fetch(count int) ([]uint64, error) {
	if count <= 0 {
		return nil, ErrBadCount
	}
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, err
	}
	return expand(seed[:], count), nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// DETERMINISTIC PROVIDER
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// DeterministicProvider expands a fixed 64-bit seed. Identical seeds
// produce identical block sequences across runs — the replay/testing
// provider, never for production traffic.
type DeterministicProvider struct {
	Seed uint64
}

// Fetch expands the configured seed into count 64-bit blocks.
func (d DeterministicProvider) Fetch(count int) ([]uint64, error) {
	if count <= 0 {
		return nil, ErrBadCount
	}
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], d.Seed)
	return expand(seed[:], count), nil
}

// expand stretches seed material into count blocks via SHAKE256.
func expand(seed []byte, count int) []uint64 {
	shake := sha3.NewShake256()
	_, _ = shake.Write(seed)
	raw := make([]byte, count*8)
	_, _ = io.ReadFull(shake, raw)

	out := make([]uint64, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return out
}
