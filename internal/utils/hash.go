package utils // package utils provides helper functions for token hashing and randomness

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for stored token material
	"encoding/hex"  // hex encoding for digests and random strings
)

// HashTokenRaw returns the SHA-256 hash of raw token material as a hex
// string.  Only the hash is persisted so a stolen database dump cannot be
// replayed against the token endpoints.
func HashTokenRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
