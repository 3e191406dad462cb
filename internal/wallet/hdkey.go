package wallet

import (
	"fmt"

	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 style derivation path constants.
// Identity path: m/44'/CoinTypeXChain'/account'/0/0
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeXChain is the coin type field (hardened). Unregistered.
	CoinTypeXChain = bip32.FirstHardenedChild + 7759
)

// KeyScheme selects the signature scheme of a derived identity.
type KeyScheme string

const (
	SchemeEd25519   KeyScheme = "ed25519"
	SchemeSecp256k1 KeyScheme = "secp256k1"
)

// ParseKeyScheme accepts a scheme name; empty means Ed25519.
func ParseKeyScheme(s string) (KeyScheme, error) {
	switch KeyScheme(s) {
	case "", SchemeEd25519:
		return SchemeEd25519, nil
	case SchemeSecp256k1:
		return SchemeSecp256k1, nil
	default:
		return "", fmt.Errorf("unknown key scheme %q (want %s or %s)", s, SchemeEd25519, SchemeSecp256k1)
	}
}

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath derives a key along a sequence of indices. Add
// bip32.FirstHardenedChild to an index for hardened derivation.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// privateKeyBytes returns the raw 32-byte private key, nil for public keys.
func (k *HDKey) privateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// Identity turns this key's secret into a signing key of the given scheme.
// Ed25519 identities use the 32 secret bytes as the key seed.
func (k *HDKey) Identity(scheme KeyScheme) (crypto.PrivateKey, error) {
	priv := k.privateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	switch scheme {
	case SchemeSecp256k1:
		return crypto.Secp256k1KeyFromBytes(priv)
	case SchemeEd25519:
		return crypto.NaClKeyFromSeed(priv)
	default:
		return nil, fmt.Errorf("unknown key scheme %q", scheme)
	}
}

// DeriveIdentity derives the identity of account from a BIP-39 seed. The
// same seed, scheme and account always give the same public key.
func DeriveIdentity(seed []byte, scheme KeyScheme, account uint32) (crypto.PrivateKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	leaf, err := master.DerivePath(PurposeBIP44, CoinTypeXChain, bip32.FirstHardenedChild+account, 0, 0)
	if err != nil {
		return nil, err
	}
	return leaf.Identity(scheme)
}

// IdentityPath renders the derivation path DeriveIdentity uses for account.
func IdentityPath(account uint32) string {
	return fmt.Sprintf("m/44'/%d'/%d'/0/0", CoinTypeXChain-bip32.FirstHardenedChild, account)
}

// IdentityFromMnemonic derives an identity directly from a recovery phrase.
func IdentityFromMnemonic(mnemonic, passphrase string, scheme KeyScheme, account uint32) (crypto.PrivateKey, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	defer clear(seed)
	return DeriveIdentity(seed, scheme, account)
}
