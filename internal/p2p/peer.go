package p2p

import (
	"time"

	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer represents a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string // "dht", "mdns", "seed", "inbound"

	// Chain identity announced in the handshake; empty until then.
	PublicKey types.PublicKey
	LatestSeq uint32
}
