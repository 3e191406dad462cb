package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       7759,
			MaxPeers:   50,
			// Seeds are multiaddr strings, e.g.
			//   "/ip4/203.0.113.1/tcp/7759/p2p/12D3KooW..."
			Seeds: []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8085,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Gossip: GossipConfig{
			Fanout:        25,
			TTL:           1,
			RelayTTL:      "10m",
			RelayCapacity: 10000,
			CrawlRate:     2,
			Announce:      "1m",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 7760
	cfg.RPC.Port = 8086
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
