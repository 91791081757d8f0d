// Package sha256 names evidence snapshots by content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements watch.Hasher. Identical page snapshots of an item get
// the same digest and therefore the same object path.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 of data. It never fails.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
