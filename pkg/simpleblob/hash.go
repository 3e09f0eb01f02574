package simpleblob

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashLength is the length of a hex-encoded SHA-256 digest.
const HashLength = 64

// ComputeHash returns the SHA-256 digest of data as a 64-character lowercase
// hex string. Deterministic and side-effect free.
func ComputeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeHashReader consumes r, returning the hex digest and the number of
// bytes read. Used by streaming upload paths to digest and count in one pass.
func ComputeHashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// IsValidHash reports whether s is a well-formed digest: exactly 64
// lowercase hex characters.
func IsValidHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
