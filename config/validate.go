package config

import (
	"fmt"
	"time"
)

// MaxTTL is the largest hop count a broadcast can carry.
const MaxTTL = 255

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}

	g := cfg.Gossip
	if g.Fanout < 1 {
		return fmt.Errorf("gossip.fanout must be at least 1")
	}
	if g.TTL < 0 || g.TTL > MaxTTL {
		return fmt.Errorf("gossip.ttl must be in range [0, %d]", MaxTTL)
	}
	if g.RelayCapacity < 0 {
		return fmt.Errorf("gossip.relaycapacity must not be negative")
	}
	if g.CrawlRate < 0 {
		return fmt.Errorf("gossip.crawlrate must not be negative")
	}
	if _, err := parseDuration(g.RelayTTL); err != nil {
		return fmt.Errorf("gossip.relayttl: %w", err)
	}
	if _, err := parseDuration(g.Announce); err != nil {
		return fmt.Errorf("gossip.announce: %w", err)
	}
	return nil
}

// RelayTTLDuration returns the parsed relay memory duration, zero when unset.
func (g GossipConfig) RelayTTLDuration() time.Duration {
	d, _ := parseDuration(g.RelayTTL)
	return d
}

// AnnounceInterval returns the parsed head announcement interval.
func (g GossipConfig) AnnounceInterval() time.Duration {
	d, _ := parseDuration(g.Announce)
	return d
}

// parseDuration accepts Go durations and treats "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
