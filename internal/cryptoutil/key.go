// Package cryptoutil holds key handling shared by the job store signer and
// configuration validation.
package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MinKeyBytes is the minimum HMAC-SHA256 key size.
const MinKeyBytes = 32

// IsHexString reports whether s consists entirely of hexadecimal characters.
// It returns true for an empty string.
func IsHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// KeyBytes interprets key as hex when it is 64+ even hex characters and as
// raw bytes otherwise. Either form must yield at least MinKeyBytes bytes.
func KeyBytes(key string) ([]byte, error) {
	if len(key) >= 2*MinKeyBytes && len(key)%2 == 0 && IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("key hex decode: %w", err)
		}
		return decoded, nil
	}
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("key must be at least %d bytes or %d+ hex characters (got %d)", MinKeyBytes, 2*MinKeyBytes, len(key))
	}
	return []byte(key), nil
}

// DeriveKey returns a deterministic hex key for purpose, unique per data
// directory. It is a zero-config fallback, not a secret.
func DeriveKey(dataDir, purpose string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("dcpguard:%s:%s", dataDir, purpose)))
	return hex.EncodeToString(h[:])
}
