package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/Klingon-tech/xchain/pkg/wire"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// handshakeTimeout is the max time for a complete handshake exchange.
	handshakeTimeout = 10 * time.Second

	// maxHandshakeBytes limits handshake message size.
	maxHandshakeBytes = 4096
)

// HandshakeMessage is exchanged between peers to verify compatibility and
// learn each other's chain identity. A non-empty PublicKey must come with a
// Signature by that key over HandshakeSigningBytes for the sender's peer ID.
type HandshakeMessage struct {
	ProtocolVersion uint32          `json:"protocol_version"`
	NetworkID       string          `json:"network_id"`
	PublicKey       types.PublicKey `json:"public_key"`
	LatestSeq       uint32          `json:"latest_seq"`
	Signature       []byte          `json:"signature,omitempty"`
}

// HandshakeSigningBytes returns the bytes a peer signs to bind its chain key
// to its libp2p identity on one network.
func HandshakeSigningBytes(networkID string, id peer.ID, pk types.PublicKey, latestSeq uint32) []byte {
	buf := make([]byte, 0, 8+len(networkID)+len(id)+types.PublicKeySize+4)
	buf = wire.AppendVarlen(buf, []byte(networkID))
	buf = wire.AppendVarlen(buf, []byte(id))
	buf = append(buf, pk[:]...)
	return wire.AppendUint32(buf, latestSeq)
}

// SignHandshake sets msg's chain identity to key and signs it for sender id.
func SignHandshake(msg *HandshakeMessage, key crypto.Signer, id peer.ID) error {
	msg.PublicKey = key.PublicKey()
	digest := crypto.Digest(HandshakeSigningBytes(msg.NetworkID, id, msg.PublicKey, msg.LatestSeq))
	sig, err := key.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("sign handshake: %w", err)
	}
	msg.Signature = sig
	return nil
}

// VerifyHandshake reports whether msg proves ownership of its chain key for
// a connection from id.
func VerifyHandshake(msg *HandshakeMessage, from peer.ID) bool {
	if len(msg.Signature) != types.SignatureSize {
		return false
	}
	digest := crypto.Digest(HandshakeSigningBytes(msg.NetworkID, from, msg.PublicKey, msg.LatestSeq))
	return crypto.VerifySignature(digest[:], msg.Signature, msg.PublicKey)
}

// registerHandshakeHandler sets up the stream handler for incoming handshakes.
func (n *Node) registerHandshakeHandler() {
	n.host.SetStreamHandler(HandshakeProtocol, func(stream network.Stream) {
		defer stream.Close()

		remotePeer := stream.Conn().RemotePeer()
		_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))

		var peerMsg HandshakeMessage
		if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&peerMsg); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(remotePeer)).Msg("Handshake read failed")
			return
		}

		ourMsg := n.buildHandshakeMessage()
		if err := json.NewEncoder(stream).Encode(&ourMsg); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(remotePeer)).Msg("Handshake write failed")
			return
		}

		n.completeHandshake(remotePeer, peerMsg)
	})
}

// doHandshake initiates a handshake with a remote peer (dialer side).
func (n *Node) doHandshake(peerID peer.ID) {
	ctx, cancel := context.WithTimeout(n.ctx, handshakeTimeout)
	defer cancel()

	stream, err := n.host.NewStream(ctx, peerID, HandshakeProtocol)
	if err != nil {
		klog.P2P.Debug().Str("peer", shortID(peerID)).Msg("Peer does not support handshake protocol, tolerating")
		return
	}
	defer stream.Close()

	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	ourMsg := n.buildHandshakeMessage()
	if err := json.NewEncoder(stream).Encode(&ourMsg); err != nil {
		klog.P2P.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Handshake send failed")
		return
	}
	stream.CloseWrite()

	var peerMsg HandshakeMessage
	if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&peerMsg); err != nil {
		klog.P2P.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Handshake response read failed")
		return
	}

	n.completeHandshake(peerID, peerMsg)
}

// completeHandshake records an acceptable peer's identity, or bans it.
func (n *Node) completeHandshake(id peer.ID, msg HandshakeMessage) {
	if reason := n.validateHandshake(id, msg); reason != "" {
		klog.P2P.Warn().
			Str("peer", shortID(id)).
			Str("reason", reason).
			Msg("Handshake rejected, banning peer")
		if n.BanManager != nil {
			n.BanManager.RecordOffense(id, PenaltyHandshakeFail, reason)
		}
		n.DisconnectPeer(id)
		return
	}
	n.setPeerChain(id, msg.PublicKey, msg.LatestSeq)
	klog.P2P.Debug().
		Str("peer", shortID(id)).
		Str("chain", msg.PublicKey.Short()).
		Uint32("latest_seq", msg.LatestSeq).
		Msg("Handshake complete")
}

// validateHandshake checks a handshake received from a peer. It returns an
// empty string on success, or the rejection reason.
func (n *Node) validateHandshake(from peer.ID, msg HandshakeMessage) string {
	if msg.NetworkID != n.config.NetworkID {
		return fmt.Sprintf("network mismatch: peer=%q local=%q", msg.NetworkID, n.config.NetworkID)
	}
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d",
			msg.ProtocolVersion, MinProtocolVersion)
	}
	if msg.PublicKey.IsEmpty() {
		return ""
	}
	if !crypto.IsValidPublicKey(msg.PublicKey) {
		return "malformed chain public key"
	}
	if !VerifyHandshake(&msg, from) {
		return "chain identity not proven"
	}
	if n.BanManager != nil && n.BanManager.IsChainBanned(msg.PublicKey) {
		return "banned chain identity " + msg.PublicKey.Short()
	}
	return ""
}

// buildHandshakeMessage constructs our handshake message from node state.
// Without a chain key, or if signing fails, no chain identity is claimed.
func (n *Node) buildHandshakeMessage() HandshakeMessage {
	msg := HandshakeMessage{
		ProtocolVersion: ProtocolVersion,
		NetworkID:       n.config.NetworkID,
	}
	if n.latestSeqFn != nil {
		msg.LatestSeq = n.latestSeqFn()
	}
	if n.chainKey == nil {
		return msg
	}
	if err := SignHandshake(&msg, n.chainKey, n.ID()); err != nil {
		klog.P2P.Warn().Err(err).Msg("Handshake sent without chain identity")
		msg.PublicKey, msg.Signature = types.PublicKey{}, nil
	}
	return msg
}
