package wallet

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
)

// KeyFileExt is the extension of key files managed by a Keystore.
const KeyFileExt = ".key"

// Keystore errors.
var (
	ErrKeyExists     = errors.New("key file already exists")
	ErrKeyNotFound   = errors.New("key file not found")
	ErrNeedPassword  = errors.New("key file is encrypted, password required")
	ErrKeyMismatch   = errors.New("decrypted key does not match recorded public key")
	ErrUnknownFormat = errors.New("unrecognized key file format")
)

// keyFile is the on-disk JSON format of an encrypted identity. Unencrypted
// identities are stored as the hex of the tagged private key instead.
type keyFile struct {
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	Scheme       string          `json:"scheme"`
	PublicKey    types.PublicKey `json:"public_key"`
	Derivation   string          `json:"derivation,omitempty"`
	EncryptedKey []byte          `json:"encrypted_key"`
}

// KeyInfo describes a key file without decrypting it.
type KeyInfo struct {
	Path       string          `json:"path"`
	PublicKey  types.PublicKey `json:"public_key"`
	Scheme     string          `json:"scheme"`
	Encrypted  bool            `json:"encrypted"`
	Derivation string          `json:"derivation,omitempty"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
}

// WriteKeyFile stores key at path, encrypted when password is non-empty.
// An existing file is never overwritten. derivation is informational, e.g.
// "m/44'/7759'/0'/0/0" for mnemonic-derived keys.
func WriteKeyFile(path string, key crypto.PrivateKey, password []byte, params EncryptionParams, derivation string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrKeyExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}

	secret := key.Serialize()
	defer clear(secret)

	var data []byte
	if len(password) == 0 {
		data = []byte(hex.EncodeToString(secret) + "\n")
	} else {
		sealed, err := Encrypt(secret, password, params)
		if err != nil {
			return fmt.Errorf("encrypt key: %w", err)
		}
		kf := keyFile{
			Version:      1,
			CreatedAt:    time.Now().UTC(),
			Scheme:       crypto.Scheme(key.PublicKey()),
			PublicKey:    key.PublicKey(),
			Derivation:   derivation,
			EncryptedKey: sealed,
		}
		data, err = json.MarshalIndent(&kf, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal key file: %w", err)
		}
	}

	// O_EXCL closes the window between the Stat above and the write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
		return fmt.Errorf("write key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}

// ReadKeyFile loads the key at path. password is only consulted for
// encrypted files.
func ReadKeyFile(path string, password []byte) (crypto.PrivateKey, error) {
	data, err := readKeyData(path)
	if err != nil {
		return nil, err
	}
	if kf, ok, err := parseKeyFile(data); err != nil {
		return nil, err
	} else if ok {
		return openKeyFile(kf, password)
	}
	return parseRawKey(data)
}

// ReadKeyInfo describes the key at path without needing its password.
func ReadKeyInfo(path string) (*KeyInfo, error) {
	data, err := readKeyData(path)
	if err != nil {
		return nil, err
	}
	kf, ok, err := parseKeyFile(data)
	if err != nil {
		return nil, err
	}
	if ok {
		return &KeyInfo{
			Path:       path,
			PublicKey:  kf.PublicKey,
			Scheme:     kf.Scheme,
			Encrypted:  true,
			Derivation: kf.Derivation,
			CreatedAt:  kf.CreatedAt,
		}, nil
	}
	key, err := parseRawKey(data)
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	return &KeyInfo{Path: path, PublicKey: key.PublicKey(), Scheme: crypto.Scheme(key.PublicKey())}, nil
}

// LoadOrCreateKeyFile loads the key at path, or creates a fresh Ed25519
// identity there if the file does not exist yet.
func LoadOrCreateKeyFile(path string, password []byte) (key crypto.PrivateKey, created bool, err error) {
	key, err = ReadKeyFile(path, password)
	if err == nil || !errors.Is(err, ErrKeyNotFound) {
		return key, false, err
	}
	nacl, err := crypto.GenerateNaClKey()
	if err != nil {
		return nil, false, err
	}
	if err := WriteKeyFile(path, nacl, password, DefaultParams(), ""); err != nil {
		return nil, false, err
	}
	log.Wallet.Info().
		Str("path", path).
		Str("public_key", nacl.PublicKey().Short()).
		Bool("encrypted", len(password) > 0).
		Msg("Generated new identity")
	return nacl, true, nil
}

func readKeyData(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
		}
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return bytes.TrimSpace(data), nil
}

// parseKeyFile decodes the JSON format. ok is false for raw hex files.
func parseKeyFile(data []byte) (*keyFile, bool, error) {
	if len(data) == 0 || data[0] != '{' {
		return nil, false, nil
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, false, fmt.Errorf("parse key file: %w", err)
	}
	if kf.Version != 1 {
		return nil, false, fmt.Errorf("unsupported key file version: %d", kf.Version)
	}
	return &kf, true, nil
}

func openKeyFile(kf *keyFile, password []byte) (crypto.PrivateKey, error) {
	if len(password) == 0 {
		return nil, ErrNeedPassword
	}
	secret, err := Decrypt(kf.EncryptedKey, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt key file: %w", err)
	}
	defer clear(secret)
	key, err := crypto.PrivateKeyFromBytes(secret)
	if err != nil {
		return nil, err
	}
	if key.PublicKey() != kf.PublicKey {
		key.Zero()
		return nil, ErrKeyMismatch
	}
	return key, nil
}

func parseRawKey(data []byte) (crypto.PrivateKey, error) {
	secret, err := hex.DecodeString(strings.TrimPrefix(string(data), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	defer clear(secret)
	return crypto.PrivateKeyFromBytes(secret)
}

// Keystore manages named key files in one directory.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

// Path returns the file path for a key by name.
func (ks *Keystore) Path(name string) string {
	return filepath.Join(ks.path, name+KeyFileExt)
}

// Create stores a new named key.
func (ks *Keystore) Create(name string, key crypto.PrivateKey, password []byte, params EncryptionParams, derivation string) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid key name %q", name)
	}
	return WriteKeyFile(ks.Path(name), key, password, params, derivation)
}

// Load opens a named key.
func (ks *Keystore) Load(name string, password []byte) (crypto.PrivateKey, error) {
	return ReadKeyFile(ks.Path(name), password)
}

// Info describes a named key without decrypting it.
func (ks *Keystore) Info(name string) (*KeyInfo, error) {
	return ReadKeyInfo(ks.Path(name))
}

// List returns the names of all key files in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == KeyFileExt {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a key file.
func (ks *Keystore) Delete(name string) error {
	path := ks.Path(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	return os.Remove(path)
}
