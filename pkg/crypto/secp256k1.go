package crypto

import (
	"fmt"

	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Secp256k1Key is a secp256k1 private key producing Schnorr signatures.
// Its public key is serialized as the tag followed by the uncompressed X and Y
// coordinates.
type Secp256k1Key struct {
	key *secp256k1.PrivateKey
}

// GenerateSecp256k1Key creates a new random secp256k1 key.
func GenerateSecp256k1Key() (*Secp256k1Key, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Secp256k1Key{key: key}, nil
}

// Secp256k1KeyFromBytes creates a key from a 32-byte scalar.
func Secp256k1KeyFromBytes(b []byte) (*Secp256k1Key, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: secp256k1 scalar must be 32 bytes, got %d", ErrInvalidKey, len(b))
	}
	return &Secp256k1Key{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// Sign produces a Schnorr signature over a 32-byte hash.
func (k *Secp256k1Key) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("%w, got %d", ErrHashLength, len(hash))
	}
	sig, err := schnorr.Sign(k.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns the tagged 74 byte public key.
func (k *Secp256k1Key) PublicKey() types.PublicKey {
	var pk types.PublicKey
	copy(pk[:], secp256PublicTag)
	// SerializeUncompressed is 0x04 || X || Y.
	copy(pk[TagSize:], k.key.PubKey().SerializeUncompressed()[1:])
	return pk
}

// Serialize returns the tag followed by the 32-byte scalar.
func (k *Secp256k1Key) Serialize() []byte {
	return append([]byte(secp256SecretTag), k.key.Serialize()...)
}

// Zero wipes the scalar.
func (k *Secp256k1Key) Zero() {
	k.key.Zero()
}

func parseSecp256k1(pk types.PublicKey) (*secp256k1.PublicKey, error) {
	raw := make([]byte, 65)
	raw[0] = 0x04
	copy(raw[1:], pk[TagSize:])
	return secp256k1.ParsePubKey(raw)
}

func verifySecp256k1(hash, sig []byte, pk types.PublicKey) bool {
	pub, err := parseSecp256k1(pk)
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(hash, pub)
}
