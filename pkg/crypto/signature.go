package crypto

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/xchain/pkg/types"
)

// Key serialization tags. Every serialized key starts with one of these.
const (
	TagSize = 10

	naclPublicTag    = "LibNaCLPK:"
	naclPrivateTag   = "LibNaCLSK:"
	secp256PublicTag = "Secp256PK:"
	secp256SecretTag = "Secp256SK:"
)

var (
	ErrUnknownScheme = errors.New("unknown key scheme")
	ErrInvalidKey    = errors.New("invalid key")
	ErrHashLength    = errors.New("hash must be 32 bytes")
)

// Signer signs block hashes with a private key.
type Signer interface {
	// Sign produces a 64 byte signature over a 32-byte hash.
	Sign(hash []byte) ([]byte, error)
	// PublicKey returns the serialized 74 byte public key.
	PublicKey() types.PublicKey
}

// PrivateKey is a Signer that can be persisted and wiped.
type PrivateKey interface {
	Signer
	// Serialize returns the tagged private key encoding.
	Serialize() []byte
	// Zero wipes the secret material.
	Zero()
}

// Verifier verifies block signatures.
type Verifier interface {
	Verify(hash, signature []byte, pub types.PublicKey) bool
}

// IsValidPublicKey reports whether pk carries a known scheme tag and key
// material that parses under that scheme.
func IsValidPublicKey(pk types.PublicKey) bool {
	switch string(pk[:TagSize]) {
	case secp256PublicTag:
		_, err := parseSecp256k1(pk)
		return err == nil
	case naclPublicTag:
		return validNaCl(pk)
	default:
		return false
	}
}

// VerifySignature checks sig over a 32-byte hash under pub. It returns false
// on any malformed input.
func VerifySignature(hash, sig []byte, pub types.PublicKey) bool {
	if len(hash) != 32 || len(sig) != types.SignatureSize {
		return false
	}
	switch string(pub[:TagSize]) {
	case secp256PublicTag:
		return verifySecp256k1(hash, sig, pub)
	case naclPublicTag:
		return verifyNaCl(hash, sig, pub)
	default:
		return false
	}
}

// SchemeVerifier implements Verifier by dispatching on the key tag.
type SchemeVerifier struct{}

// Verify checks sig over hash under pub.
func (SchemeVerifier) Verify(hash, signature []byte, pub types.PublicKey) bool {
	return VerifySignature(hash, signature, pub)
}

// PrivateKeyFromBytes restores a key produced by PrivateKey.Serialize.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) < TagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(b))
	}
	switch string(b[:TagSize]) {
	case secp256SecretTag:
		return Secp256k1KeyFromBytes(b[TagSize:])
	case naclPrivateTag:
		return naclKeyFromSerialized(b[TagSize:])
	default:
		return nil, fmt.Errorf("%w: tag %q", ErrUnknownScheme, b[:TagSize])
	}
}

// Scheme names the signature scheme of a public key.
func Scheme(pk types.PublicKey) string {
	switch string(pk[:TagSize]) {
	case secp256PublicTag:
		return "secp256k1"
	case naclPublicTag:
		return "ed25519"
	default:
		return "unknown"
	}
}
