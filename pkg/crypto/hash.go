// Package crypto provides the key schemes and digests used by XChain blocks.
package crypto

import (
	"crypto/sha256"

	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes the SHA-256 digest used for block hashes.
func Hash(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// KeyHash computes a BLAKE3-256 fingerprint of a public key. It is used as a
// compact peer identifier in head announcements and logs.
func KeyHash(pk types.PublicKey) types.Hash {
	return blake3.Sum256(pk[:])
}

// Digest computes a BLAKE3-256 hash of arbitrary data.
func Digest(data []byte) types.Hash {
	return blake3.Sum256(data)
}
