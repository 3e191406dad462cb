package p2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// Stream protocols.
const (
	// MessageProtocol carries one community message frame per stream.
	MessageProtocol = protocol.ID("/xchain/msg/1.0.0")

	// HandshakeProtocol is the stream protocol ID for peer compatibility checking.
	HandshakeProtocol = protocol.ID("/xchain/handshake/1.0.0")

	// ProtocolVersion is the current protocol version advertised during handshake.
	ProtocolVersion uint32 = 1

	// MinProtocolVersion is the minimum protocol version we accept from peers.
	MinProtocolVersion uint32 = 1
)

// defaultNetwork names the network when Config.NetworkID is empty.
const defaultNetwork = "xchain"

// HeadsTopic returns the GossipSub topic carrying chain head announcements
// of a network.
func HeadsTopic(networkID string) string {
	if networkID == "" {
		networkID = defaultNetwork
	}
	return fmt.Sprintf("/xchain/%s/heads/1.0.0", networkID)
}
