package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Klingon-tech/xchain/pkg/crypto"
)

func testKeystore(t *testing.T) *Keystore {
	t.Helper()
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore() error: %v", err)
	}
	return ks
}

func testIdentity(t *testing.T) crypto.PrivateKey {
	t.Helper()
	key, err := IdentityFromMnemonic(testMnemonic, "", SchemeEd25519, 0)
	if err != nil {
		t.Fatalf("IdentityFromMnemonic() error: %v", err)
	}
	return key
}

func TestKeystore_CreateAndLoad_Encrypted(t *testing.T) {
	ks := testKeystore(t)
	key := testIdentity(t)
	password := []byte("test-password")

	if err := ks.Create("node", key, password, fastParams(), "m/44'/7759'/0'/0/0"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	loaded, err := ks.Load("node", password)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.PublicKey() != key.PublicKey() {
		t.Error("loaded key does not match original")
	}

	raw, _ := os.ReadFile(ks.Path("node"))
	if strings.Contains(string(raw), "LibNaCLSK") {
		t.Error("encrypted key file contains the plain secret")
	}
}

func TestKeystore_CreateAndLoad_Plain(t *testing.T) {
	ks := testKeystore(t)
	key, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}
	if err := ks.Create("plain", key, nil, fastParams(), ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// The password is ignored for unencrypted files.
	loaded, err := ks.Load("plain", []byte("anything"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.PublicKey() != key.PublicKey() {
		t.Error("loaded key does not match original")
	}
}

func TestKeystore_CreateDuplicate(t *testing.T) {
	ks := testKeystore(t)
	key := testIdentity(t)

	if err := ks.Create("dup", key, []byte("pass"), fastParams(), ""); err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	err := ks.Create("dup", key, []byte("pass"), fastParams(), "")
	if !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Create() error = %v, want ErrKeyExists", err)
	}
}

func TestKeystore_CreateBadName(t *testing.T) {
	ks := testKeystore(t)
	for _, name := range []string{"", "../escape", `a\b`} {
		if err := ks.Create(name, testIdentity(t), nil, fastParams(), ""); err == nil {
			t.Errorf("Create(%q) should fail", name)
		}
	}
}

func TestKeystore_LoadErrors(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("locked", testIdentity(t), []byte("correct"), fastParams(), "")

	if _, err := ks.Load("locked", []byte("wrong")); !errors.Is(err, ErrBadPassword) {
		t.Errorf("Load(wrong password) error = %v", err)
	}
	if _, err := ks.Load("locked", nil); !errors.Is(err, ErrNeedPassword) {
		t.Errorf("Load(no password) error = %v", err)
	}
	if _, err := ks.Load("doesnotexist", []byte("pass")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Load(missing) error = %v", err)
	}

	os.WriteFile(ks.Path("garbage"), []byte("not hex at all"), 0600)
	if _, err := ks.Load("garbage", nil); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Load(garbage) error = %v", err)
	}
}

func TestKeystore_Info(t *testing.T) {
	ks := testKeystore(t)
	key := testIdentity(t)
	ks.Create("enc", key, []byte("p"), fastParams(), "m/44'/7759'/0'/0/0")
	ks.Create("raw", key, nil, fastParams(), "")

	enc, err := ks.Info("enc")
	if err != nil {
		t.Fatalf("Info(enc) error: %v", err)
	}
	if !enc.Encrypted || enc.PublicKey != key.PublicKey() || enc.Scheme != "ed25519" || enc.Derivation == "" {
		t.Errorf("Info(enc) = %+v", enc)
	}

	raw, err := ks.Info("raw")
	if err != nil {
		t.Fatalf("Info(raw) error: %v", err)
	}
	if raw.Encrypted || raw.PublicKey != key.PublicKey() {
		t.Errorf("Info(raw) = %+v", raw)
	}
}

func TestKeystore_ListAndDelete(t *testing.T) {
	ks := testKeystore(t)

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected 0 keys, got %d", len(names))
	}

	ks.Create("alpha", testIdentity(t), []byte("p"), fastParams(), "")
	ks.Create("beta", testIdentity(t), nil, fastParams(), "")
	os.WriteFile(filepath.Join(ks.path, "notes.txt"), []byte("x"), 0600)

	names, _ = ks.List()
	if len(names) != 2 {
		t.Errorf("expected 2 keys, got %v", names)
	}

	if err := ks.Delete("alpha"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := ks.Load("alpha", []byte("p")); err == nil {
		t.Error("key should be deleted")
	}
	if err := ks.Delete("ghost"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestKeystore_FilePermissions(t *testing.T) {
	ks := testKeystore(t)
	ks.Create("secure", testIdentity(t), []byte("p"), fastParams(), "")

	info, err := os.Stat(ks.Path("secure"))
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("key file should be 0600, got %o", perm)
	}
}

func TestReadKeyFile_TamperedPublicKey(t *testing.T) {
	ks := testKeystore(t)
	key := testIdentity(t)
	ks.Create("node", key, []byte("p"), fastParams(), "")

	other, _ := IdentityFromMnemonic(testMnemonic, "", SchemeEd25519, 1)
	path := ks.Path("node")
	raw, _ := os.ReadFile(path)
	swapped := strings.Replace(string(raw), key.PublicKey().String(), other.PublicKey().String(), 1)
	os.WriteFile(path, []byte(swapped), 0600)

	if _, err := ReadKeyFile(path, []byte("p")); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("ReadKeyFile() error = %v, want ErrKeyMismatch", err)
	}
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "identity.key")

	first, created, err := LoadOrCreateKeyFile(path, nil)
	if err != nil || !created {
		t.Fatalf("LoadOrCreateKeyFile() = %v, %v", created, err)
	}
	if crypto.Scheme(first.PublicKey()) != "ed25519" {
		t.Errorf("new identity scheme = %s", crypto.Scheme(first.PublicKey()))
	}

	second, created, err := LoadOrCreateKeyFile(path, nil)
	if err != nil || created {
		t.Fatalf("second LoadOrCreateKeyFile() = %v, %v", created, err)
	}
	if second.PublicKey() != first.PublicKey() {
		t.Error("identity should persist across loads")
	}
}
