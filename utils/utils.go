// utils.go — low-level helpers shared by the timing core, torctl & logging.
package utils

import (
	"os"
	"unsafe"
)

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities — Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// B2s converts a []byte to a string **without** allocation.
// ⚠️ Caller must ensure the input slice remains valid and unchanged.
// Used for human-readable print paths.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

///////////////////////////////////////////////////////////////////////////////
// Stderr Emission — Alloc-Free Diagnostic Sink
///////////////////////////////////////////////////////////////////////////////

// PrintWarning writes a message directly to stderr without fmt machinery.
// Cold paths only; the write is best-effort and errors are ignored.
//
//go:nosplit
//go:inline
func PrintWarning(msg string) {
	_, _ = os.Stderr.WriteString(msg)
}

///////////////////////////////////////////////////////////////////////////////
// Integer Formatting — strconv-Free Print Helpers
///////////////////////////////////////////////////////////////////////////////

// Itoa renders a signed int as decimal ASCII. One 20-byte stack buffer,
// single backward fill, no strconv import on diagnostic paths.
func Itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Utoa renders a uint64 as decimal ASCII.
func Utoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Ftoa2 renders a non-negative float with two decimal places, rounding
// half up. Good enough for millisecond diagnostics; not a general
// formatter.
func Ftoa2(v float64) string {
	if v < 0 {
		return "-" + Ftoa2(-v)
	}
	scaled := uint64(v*100 + 0.5)
	whole := scaled / 100
	frac := scaled % 100
	var fb [2]byte
	fb[0] = byte('0' + frac/10)
	fb[1] = byte('0' + frac%10)
	return Utoa(whole) + "." + string(fb[:])
}

///////////////////////////////////////////////////////////////////////////////
// Decimal Decoder — No Allocation, Early Exit on Malformed Input
///////////////////////////////////////////////////////////////////////////////

// ParseU64Dec parses a decimal uint64 from ASCII, stopping at the first
// non-digit. Overflow saturates rather than wrapping so a hostile
// control-port line cannot alias two circuit identifiers.
//
//go:nosplit
//go:inline
func ParseU64Dec(b []byte) uint64 {
	var u uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		if u > (^uint64(0)-9)/10 {
			return ^uint64(0)
		}
		u = u*10 + uint64(c-'0')
	}
	return u
}

///////////////////////////////////////////////////////////////////////////////
// Hex Decoder — No Allocation, Malformed Nibbles Skipped
///////////////////////////////////////////////////////////////////////////////

// ParseHexN parses arbitrary-length hex input into a uint64, keeping
// the low 64 bits. Used for provider block decoding.
//
//go:nosplit
//go:inline
func ParseHexN(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint64(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uint64(c-'A') + 10
		}
	}
	return v
}

///////////////////////////////////////////////////////////////////////////////
// Hash & Mixers — Index Derivation & Fingerprint Folding
///////////////////////////////////////////////////////////////////////////////

// Mix64 applies a Murmur3-style avalanche to a 64-bit value.
// Used to disperse (circuit, fingerprint) combinations across the seed
// pool and to spread circuit ids across store shards.
//
//go:nosplit
//go:inline
func Mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Rotl64 rotates x left by k bits. Fixed-width, branch-free.
//
//go:nosplit
//go:inline
func Rotl64(x uint64, k uint) uint64 {
	return (x << (k & 63)) | (x >> ((64 - k) & 63))
}

// FoldBytes folds an arbitrary byte string into a 64-bit fingerprint by
// repeated shift-xor-avalanche. Deterministic, collision behavior good
// enough for event identity (not a cryptographic hash).
//
//go:nosplit
//go:inline
func FoldBytes(b []byte) uint64 {
	var h uint64 = 0x9E3779B185EBCA87
	for _, c := range b {
		h = Mix64(h<<8 | uint64(c))
	}
	return h
}
