package storage

import (
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

func newDigest() hash.Hash {
	// New256 only fails for oversized keys.
	h, _ := blake2b.New256(nil)
	return h
}

func sumHex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Checksum returns the hex BLAKE2b-256 digest of data, the same digest
// recorded for uploaded objects.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
