package main

import (
	"flag"
	"fmt"

	"github.com/Klingon-tech/xchain/internal/wallet"
	"github.com/Klingon-tech/xchain/pkg/crypto"
)

func cmdIdentity(args []string, ksDir string) {
	if len(args) < 1 {
		fatal("Usage: xchain-cli identity <new|import|list|show> [flags]")
	}

	switch args[0] {
	case "new":
		cmdIdentityNew(args[1:], ksDir)
	case "import":
		cmdIdentityImport(args[1:], ksDir)
	case "list":
		cmdIdentityList(ksDir)
	case "show":
		cmdIdentityShow(args[1:], ksDir)
	default:
		fatal("Unknown identity command: %s", args[0])
	}
}

func cmdIdentityNew(args []string, ksDir string) {
	fs := flag.NewFlagSet("identity new", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	scheme := fs.String("scheme", "", "Key scheme: ed25519 (default) or secp256k1")
	account := fs.Uint("account", 0, "Derivation account index")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: xchain-cli identity new --name <name> [--scheme s] [--account n]")
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	storeIdentity(*name, mnemonic, *scheme, uint32(*account), ksDir)
}

func cmdIdentityImport(args []string, ksDir string) {
	fs := flag.NewFlagSet("identity import", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic (24 words)")
	scheme := fs.String("scheme", "", "Key scheme: ed25519 (default) or secp256k1")
	account := fs.Uint("account", 0, "Derivation account index")
	fs.Parse(args)

	if *name == "" || *mnemonic == "" {
		fatal("Usage: xchain-cli identity import --name <name> --mnemonic \"...\"")
	}
	if !wallet.ValidateMnemonic(*mnemonic) {
		fatal("invalid mnemonic")
	}

	storeIdentity(*name, wallet.NormalizeMnemonic(*mnemonic), *scheme, uint32(*account), ksDir)
}

// storeIdentity derives the identity and writes it to the keystore,
// encrypted when the user enters a password.
func storeIdentity(name, mnemonic, schemeName string, account uint32, ksDir string) {
	scheme, err := wallet.ParseKeyScheme(schemeName)
	if err != nil {
		fatal("%v", err)
	}

	password, err := readPassword("Enter password (empty for none): ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if len(password) > 0 {
		confirm, err := readPassword("Confirm password: ")
		if err != nil {
			fatal("read password: %v", err)
		}
		if string(password) != string(confirm) {
			fatal("passwords do not match")
		}
	}
	defer clear(password)

	key, err := wallet.IdentityFromMnemonic(mnemonic, "", scheme, account)
	if err != nil {
		fatal("derive identity: %v", err)
	}
	defer key.Zero()

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	if err := ks.Create(name, key, password, wallet.DefaultParams(), wallet.IdentityPath(account)); err != nil {
		fatal("store identity: %v", err)
	}

	fmt.Printf("\nIdentity stored: %s\n", ks.Path(name))
	fmt.Printf("Public key: %s\n", key.PublicKey())
	fmt.Printf("Scheme:     %s\n", crypto.Scheme(key.PublicKey()))
	if len(password) == 0 {
		fmt.Println("Warning: the key file is not encrypted.")
	}
}

func cmdIdentityList(ksDir string) {
	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	names, err := ks.List()
	if err != nil {
		fatal("list keystore: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No identities found.")
		return
	}
	for _, name := range names {
		info, err := ks.Info(name)
		if err != nil {
			fmt.Printf("  %-16s (unreadable: %v)\n", name, err)
			continue
		}
		fmt.Printf("  %-16s %s  %s encrypted=%t\n", name, info.PublicKey.Short(), info.Scheme, info.Encrypted)
	}
}

func cmdIdentityShow(args []string, ksDir string) {
	fs := flag.NewFlagSet("identity show", flag.ExitOnError)
	name := fs.String("name", "identity", "Identity name")
	fs.Parse(args)

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	info, err := ks.Info(*name)
	if err != nil {
		fatal("read identity: %v", err)
	}

	fmt.Printf("Path:       %s\n", info.Path)
	fmt.Printf("Public key: %s\n", info.PublicKey)
	fmt.Printf("Scheme:     %s\n", info.Scheme)
	fmt.Printf("Encrypted:  %t\n", info.Encrypted)
	if info.Derivation != "" {
		fmt.Printf("Derivation: %s\n", info.Derivation)
	}
	if !info.CreatedAt.IsZero() {
		fmt.Printf("Created:    %s\n", info.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
}
