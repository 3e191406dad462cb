// Package types defines the fixed-size value types shared by XChain blocks.
package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length of a block hash in bytes.
const HashSize = 32

// Hash is a SHA-256 block digest.
type Hash [HashSize]byte

// GenesisHash is the previous-hash of every genesis block: 32 ASCII '0' bytes.
var GenesisHash = fillHash('0')

func fillHash(c byte) Hash {
	var h Hash
	copy(h[:], bytes.Repeat([]byte{c}, HashSize))
	return h
}

// IsZero returns true if the hash is all zero bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// IsGenesis returns true if h is the reserved genesis previous-hash.
func (h Hash) IsGenesis() bool {
	return h == GenesisHash
}

// String returns the hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return bytes.Clone(h[:])
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, h[:], "hash")
}

// HexToHash converts a 64 character hex string to a Hash.
func HexToHash(s string) (Hash, error) {
	var h Hash
	if err := decodeHex(s, h[:], "hash"); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// decodeHex decodes s into dst, which must be filled exactly.
func decodeHex(s string, dst []byte, what string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid %s hex: %w", what, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s must be %d bytes, got %d", what, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// unmarshalHex is the shared JSON decoder. An empty string leaves dst zeroed.
func unmarshalHex(data []byte, dst []byte, what string) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		clear(dst)
		return nil
	}
	return decodeHex(s, dst, what)
}
