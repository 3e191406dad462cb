package node

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/xchain/config"
	"github.com/Klingon-tech/xchain/internal/chain"
	"github.com/Klingon-tech/xchain/internal/community"
)

// PasswordEnv names the environment variable holding the identity password
// when no password file is configured.
const PasswordEnv = "XCHAIN_PASSWORD"

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// readPassword returns the identity password from path, or from
// PasswordEnv when path is empty. No password means a plain key file.
func readPassword(path string) ([]byte, error) {
	if path == "" {
		return []byte(os.Getenv(PasswordEnv)), nil
	}
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read password file: %w", err)
	}
	return bytes.TrimRight(data, "\r\n"), nil
}

// communityConfig maps the gossip settings onto dissemination settings.
func communityConfig(g config.GossipConfig) community.Config {
	cfg := community.DefaultConfig()
	cfg.Fanout = g.Fanout
	cfg.DefaultTTL = uint32(g.TTL)
	cfg.RelayTTL = g.RelayTTLDuration()
	cfg.RelayCapacity = g.RelayCapacity
	cfg.CrawlRate = g.CrawlRate
	cfg.AnnounceInterval = g.AnnounceInterval()
	return cfg
}

// latestSeq returns the local chain's head sequence number, 0 when empty.
func latestSeq(ch *chain.Chain) uint32 {
	b, err := ch.Latest()
	if err != nil || b == nil {
		return 0
	}
	return b.Seq
}
