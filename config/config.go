// Package config handles node configuration.
//
// Settings come from three layers, later ones winning: built-in defaults,
// the <datadir>/xchain.conf file and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds node runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Local signing identity
	Identity IdentityConfig

	// Block dissemination
	Gossip GossipConfig

	// Logging
	Log LogConfig
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds)
	ClearBans  bool     // Clear all peer bans on startup (not persisted in config file).
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// IdentityConfig locates the key the node signs its blocks with.
type IdentityConfig struct {
	KeyFile      string `conf:"identity.keyfile"`      // Raw hex key or encrypted keystore
	PasswordFile string `conf:"identity.passwordfile"` // Keystore password, if encrypted
}

// GossipConfig tunes block dissemination and chain crawling.
type GossipConfig struct {
	Fanout        int     `conf:"gossip.fanout"`
	TTL           int     `conf:"gossip.ttl"`
	RelayTTL      string  `conf:"gossip.relayttl"` // Duration a relayed block id is remembered
	RelayCapacity int     `conf:"gossip.relaycapacity"`
	CrawlRate     float64 `conf:"gossip.crawlrate"` // Crawl requests per second served per peer
	Announce      string  `conf:"gossip.announce"`  // Head announcement interval, "0" disables
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.xchain
//	macOS:   ~/Library/Application Support/XChain
//	Windows: %APPDATA%\XChain
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".xchain"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "XChain")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "XChain")
		}
		return filepath.Join(home, "AppData", "Roaming", "XChain")
	default:
		return filepath.Join(home, ".xchain")
	}
}

// NetworkID is the identifier exchanged in the p2p handshake.
func (c *Config) NetworkID() string {
	return "xchain-" + string(c.Network)
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// BlocksDir returns the block database directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// IdentityFile returns the key file path, defaulting into the keystore.
func (c *Config) IdentityFile() string {
	if c.Identity.KeyFile != "" {
		return c.Identity.KeyFile
	}
	return filepath.Join(c.KeystoreDir(), "identity.key")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "xchain.conf")
}
