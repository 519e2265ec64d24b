// Package sha256 fingerprints record content so unchanged articles can be
// detected across runs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashText returns the hex digest of s.
func (h *Hasher) HashText(s string) string {
	return h.Hash([]byte(s))
}
