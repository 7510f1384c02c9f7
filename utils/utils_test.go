// Package utils provides correctness tests for the zero-alloc helper
// set: formatting, decimal/hex decoding, and the mixing primitives the
// index-derivation path depends on.
package utils

import "testing"

// -----------------------------------------------------------------------------
// ░░ Integer Formatting ░░
// -----------------------------------------------------------------------------

func TestItoa(t *testing.T) {
	cases := map[int]string{
		0:           "0",
		1:           "1",
		-1:          "-1",
		42:          "42",
		-99999:      "-99999",
		1_000_000:   "1000000",
		2147483647:  "2147483647",
		-2147483648: "-2147483648",
	}
	for in, want := range cases {
		if got := Itoa(in); got != want {
			t.Fatalf("Itoa(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestUtoa(t *testing.T) {
	if got := Utoa(0); got != "0" {
		t.Fatalf("Utoa(0) = %q", got)
	}
	if got := Utoa(^uint64(0)); got != "18446744073709551615" {
		t.Fatalf("Utoa(max) = %q", got)
	}
}

func TestFtoa2(t *testing.T) {
	cases := map[float64]string{
		0:      "0.00",
		3.8125: "3.81",
		0.1:    "0.10",
		9.999:  "10.00",
		-1.5:   "-1.50",
	}
	for in, want := range cases {
		if got := Ftoa2(in); got != want {
			t.Fatalf("Ftoa2(%v) = %q, want %q", in, got, want)
		}
	}
}

// -----------------------------------------------------------------------------
// ░░ Decimal & Hex Decoding ░░
// -----------------------------------------------------------------------------

func TestParseU64Dec(t *testing.T) {
	if got := ParseU64Dec([]byte("12345")); got != 12345 {
		t.Fatalf("ParseU64Dec(12345) = %d", got)
	}
	if got := ParseU64Dec([]byte("42abc")); got != 42 {
		t.Fatalf("expected stop at first non-digit, got %d", got)
	}
	if got := ParseU64Dec([]byte("")); got != 0 {
		t.Fatalf("empty input should parse to 0, got %d", got)
	}
}

func TestParseU64DecSaturates(t *testing.T) {
	// One digit past max must saturate, not wrap.
	if got := ParseU64Dec([]byte("99999999999999999999")); got != ^uint64(0) {
		t.Fatalf("overflow should saturate to max, got %d", got)
	}
}

func TestParseHexN(t *testing.T) {
	if got := ParseHexN([]byte("ff")); got != 0xff {
		t.Fatalf("ParseHexN(ff) = %#x", got)
	}
	if got := ParseHexN([]byte("DEADbeef")); got != 0xdeadbeef {
		t.Fatalf("ParseHexN mixed case = %#x", got)
	}
	if got := ParseHexN([]byte("0123456789abcdef")); got != 0x0123456789abcdef {
		t.Fatalf("ParseHexN full width = %#x", got)
	}
}

// -----------------------------------------------------------------------------
// ░░ Mixers & Rotation ░░
// -----------------------------------------------------------------------------

func TestMix64Determinism(t *testing.T) {
	if Mix64(12345) != Mix64(12345) {
		t.Fatal("Mix64 must be deterministic")
	}
	if Mix64(1) == Mix64(2) {
		t.Fatal("adjacent inputs should not collide")
	}
}

func TestRotl64(t *testing.T) {
	if got := Rotl64(1, 1); got != 2 {
		t.Fatalf("Rotl64(1,1) = %d", got)
	}
	if got := Rotl64(0xABCD, 0); got != 0xABCD {
		t.Fatalf("zero rotation must be identity, got %#x", got)
	}
	// Rotating by 32 swaps halves.
	if got := Rotl64(0x00000001_00000000, 32); got != 1 {
		t.Fatalf("Rotl64 half swap = %#x", got)
	}
	if got := Rotl64(7, 64); got != 7 {
		t.Fatalf("full rotation must be identity, got %d", got)
	}
}

func TestFoldBytes(t *testing.T) {
	a := FoldBytes([]byte("www.example.com:443"))
	b := FoldBytes([]byte("www.example.com:443"))
	c := FoldBytes([]byte("www.example.com:444"))
	if a != b {
		t.Fatal("FoldBytes must be deterministic")
	}
	if a == c {
		t.Fatal("distinct targets should not collide")
	}
	if FoldBytes(nil) != FoldBytes([]byte{}) {
		t.Fatal("nil and empty must fold identically")
	}
}

func TestB2s(t *testing.T) {
	if B2s(nil) != "" {
		t.Fatal("nil slice should convert to empty string")
	}
	if got := B2s([]byte("650 STREAM")); got != "650 STREAM" {
		t.Fatalf("B2s = %q", got)
	}
}
