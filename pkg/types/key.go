package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
)

const (
	// PublicKeySize is the length of a serialized chain-owner key.
	PublicKeySize = 74

	// SignatureSize is the length of a block signature.
	SignatureSize = 64
)

// PublicKey is a serialized identity key: a 10 byte scheme tag followed by
// 64 bytes of key material.
type PublicKey [PublicKeySize]byte

// Signature is a 64 byte block signature.
type Signature [SignatureSize]byte

var (
	// EmptyPublicKey is 74 ASCII '0' bytes. It marks a proposal that any
	// counterparty may answer.
	EmptyPublicKey PublicKey

	// AnyCounterparty is an alias of EmptyPublicKey.
	AnyCounterparty PublicKey

	// EmptySignature is 64 ASCII '0' bytes, the placeholder of an unsigned block.
	EmptySignature Signature
)

func init() {
	copy(EmptyPublicKey[:], bytes.Repeat([]byte{'0'}, PublicKeySize))
	AnyCounterparty = EmptyPublicKey
	copy(EmptySignature[:], bytes.Repeat([]byte{'0'}, SignatureSize))
}

// PublicKeyFromBytes copies b into a PublicKey. b must be exactly
// PublicKeySize long; ok is false otherwise.
func PublicKeyFromBytes(b []byte) (pk PublicKey, ok bool) {
	if len(b) != PublicKeySize {
		return PublicKey{}, false
	}
	copy(pk[:], b)
	return pk, true
}

// IsEmpty reports whether pk is the empty/any-counterparty sentinel.
func (pk PublicKey) IsEmpty() bool {
	return pk == EmptyPublicKey
}

// String returns the hex-encoded key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Short returns the last 8 hex characters of the key, for log lines.
func (pk PublicKey) Short() string {
	s := pk.String()
	return s[len(s)-8:]
}

// Bytes returns a copy of the key.
func (pk PublicKey) Bytes() []byte {
	return bytes.Clone(pk[:])
}

// MarshalJSON encodes the key as a hex string.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON decodes a hex string into a key.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, pk[:], "public key")
}

// HexToPublicKey converts a 148 character hex string to a PublicKey.
func HexToPublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	if err := decodeHex(s, pk[:], "public key"); err != nil {
		return PublicKey{}, err
	}
	return pk, nil
}

// IsEmpty reports whether sig is the unsigned placeholder.
func (sig Signature) IsEmpty() bool {
	return sig == EmptySignature
}

// String returns the hex-encoded signature.
func (sig Signature) String() string {
	return hex.EncodeToString(sig[:])
}

// MarshalJSON encodes the signature as a hex string.
func (sig Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(sig.String())
}

// UnmarshalJSON decodes a hex string into a signature.
func (sig *Signature) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, sig[:], "signature")
}
