package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/Klingon-tech/xchain/pkg/types"
	"golang.org/x/crypto/curve25519"
)

// NaClKey is the libnacl-compatible key pair: an X25519 key for key
// agreement and an Ed25519 key for signing. Its public key is serialized as
// the tag, the X25519 public key, then the Ed25519 public key.
type NaClKey struct {
	box  [32]byte
	sign ed25519.PrivateKey
}

// GenerateNaClKey creates a new random key pair.
func GenerateNaClKey() (*NaClKey, error) {
	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newNaClKey(seed[:32], seed[32:]), nil
}

// NaClKeyFromSeed derives a key pair deterministically from a 32-byte seed.
// The X25519 scalar is a domain-separated digest of the seed.
func NaClKeyFromSeed(seed []byte) (*NaClKey, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("%w: seed must be 32 bytes, got %d", ErrInvalidKey, len(seed))
	}
	box := Digest(append([]byte("xchain/x25519"), seed...))
	return newNaClKey(box[:], seed), nil
}

func newNaClKey(box, signSeed []byte) *NaClKey {
	k := &NaClKey{sign: ed25519.NewKeyFromSeed(signSeed)}
	copy(k.box[:], box)
	return k
}

func naclKeyFromSerialized(b []byte) (*NaClKey, error) {
	if len(b) != 64 {
		return nil, fmt.Errorf("%w: nacl secret must be 64 bytes, got %d", ErrInvalidKey, len(b))
	}
	return newNaClKey(b[:32], b[32:]), nil
}

// Sign produces an Ed25519 signature with the 32-byte hash as message.
func (k *NaClKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("%w, got %d", ErrHashLength, len(hash))
	}
	return ed25519.Sign(k.sign, hash), nil
}

// PublicKey returns the tagged 74 byte public key.
func (k *NaClKey) PublicKey() types.PublicKey {
	var pk types.PublicKey
	copy(pk[:], naclPublicTag)
	boxPub, err := curve25519.X25519(k.box[:], curve25519.Basepoint)
	if err == nil {
		copy(pk[TagSize:TagSize+32], boxPub)
	}
	copy(pk[TagSize+32:], k.sign.Public().(ed25519.PublicKey))
	return pk
}

// Serialize returns the tag, the X25519 scalar and the Ed25519 seed.
func (k *NaClKey) Serialize() []byte {
	out := append([]byte(naclPrivateTag), k.box[:]...)
	return append(out, k.sign.Seed()...)
}

// Zero wipes both secrets.
func (k *NaClKey) Zero() {
	clear(k.box[:])
	clear(k.sign)
}

func validNaCl(pk types.PublicKey) bool {
	var zero [32]byte
	return [32]byte(pk[TagSize+32:]) != zero
}

func verifyNaCl(hash, sig []byte, pk types.PublicKey) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[TagSize+32:]), hash, sig)
}
