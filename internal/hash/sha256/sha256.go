// Package sha256 names page snapshots by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct {
	length int
}

// New returns a hasher producing full hex digests.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher keeping the first length hex characters,
// which is enough to name snapshots within one run.
func NewTruncated(length int) *Hasher {
	return &Hasher{length: length}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(digest) {
		digest = digest[:h.length]
	}
	return digest, nil
}
