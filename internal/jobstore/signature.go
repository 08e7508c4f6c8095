package jobstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dativo-io/dcpguard/internal/cryptoutil"
)

const signaturePrefix = "hmac-sha256:"

// Signer creates and verifies HMAC-SHA256 record signatures.
type Signer struct {
	key []byte
}

// NewSigner creates a signer. The key must be at least 32 raw bytes or 64+
// hex characters.
func NewSigner(key string) (*Signer, error) {
	b, err := cryptoutil.KeyBytes(key)
	if err != nil {
		return nil, err
	}
	return &Signer{key: b}, nil
}

// Sign returns "hmac-sha256:<hex>" for data.
func (s *Signer) Sign(data []byte) string {
	h := hmac.New(sha256.New, s.key)
	h.Write(data)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches data.
func (s *Signer) Verify(data []byte, signature string) bool {
	return hmac.Equal([]byte(s.Sign(data)), []byte(signature))
}
