package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the size of a block or chunk hash, in bytes.
const HashSize = sha256.Size

// Hash is a sha256 digest identifying a block, chunk or epoch.
type Hash [HashSize]byte

// NewHash hashes the given bytes.
func NewHash(bz []byte) Hash {
	return sha256.Sum256(bz)
}

// HashFromBytes converts a byte slice into a Hash. It returns an error if the
// slice has the wrong length.
func HashFromBytes(bz []byte) (Hash, error) {
	var h Hash
	if len(bz) != HashSize {
		return h, fmt.Errorf("invalid hash length %d, expected %d", len(bz), HashSize)
	}
	copy(h[:], bz)
	return h, nil
}

// IsZero reports whether the hash is the zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Fingerprint returns the first 6 bytes of the hash in hex, for logging.
func (h Hash) Fingerprint() string {
	return hex.EncodeToString(h[:6])
}
