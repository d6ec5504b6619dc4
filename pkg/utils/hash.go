package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex-encoded SHA-256 digest of raw content.
// Document identity is content-addressed: two uploads with the same
// bytes always hash to the same value.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex-encoded SHA-256 digest of a string.
func HashString(input string) string {
	return HashBytes([]byte(input))
}

// ContentKey derives the cache/index key for a (text, model) pair.
// The NUL separator keeps "ab"+"c" and "a"+"bc" from colliding.
func ContentKey(text, modelID string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(modelID))
	return hex.EncodeToString(h.Sum(nil))
}
