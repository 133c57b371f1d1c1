package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chazu/tracefilter/compiler"
)

// Fingerprint computes the SHA-256 content hash of a lowered filter.
//
// The hash is computed over a deterministic serialization of the normalized
// IR. Two filters with the same semantics up to spacing, parentheses,
// literal spelling (0x10 vs 16) and commutative operand order produce the
// same fingerprint.
func Fingerprint(ir *compiler.IrRoot) [32]byte {
	return sha256.Sum256(Serialize(Normalize(ir)))
}

// FingerprintText runs the compiler front end over text and fingerprints
// the result.
func FingerprintText(text string) ([32]byte, error) {
	ir, err := compiler.Frontend(text)
	if err != nil {
		return [32]byte{}, err
	}
	return Fingerprint(ir), nil
}

// String renders a fingerprint as lowercase hex.
func String(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// Parse decodes a hex fingerprint produced by String.
func Parse(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decoding fingerprint: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("fingerprint has %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}
