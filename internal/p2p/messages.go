package p2p

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// maxFrameBytes bounds one direct message frame.
	maxFrameBytes = 8 << 20

	// frameReadTimeout is the max time to read a frame from a stream.
	frameReadTimeout = 30 * time.Second
)

// SetMessageHandler registers the callback for incoming direct message
// frames. It runs on the stream's goroutine. Call before Start.
func (n *Node) SetMessageHandler(fn func(from peer.ID, frame []byte)) {
	n.msgHandler = fn
}

func (n *Node) registerMessageHandler() {
	n.host.SetStreamHandler(MessageProtocol, n.handleMessageStream)
}

func (n *Node) handleMessageStream(stream network.Stream) {
	defer stream.Close()
	from := stream.Conn().RemotePeer()

	_ = stream.SetReadDeadline(time.Now().Add(frameReadTimeout))
	frame, err := io.ReadAll(io.LimitReader(stream, maxFrameBytes+1))
	if err != nil {
		klog.P2P.Debug().Err(err).Str("peer", shortID(from)).Msg("Message read failed")
		return
	}
	if len(frame) > maxFrameBytes {
		klog.P2P.Warn().Str("peer", shortID(from)).Int("bytes", len(frame)).Msg("Oversized message dropped")
		n.BanManager.RecordOffense(from, PenaltyMalformedMessage, "oversized message")
		return
	}

	n.addPeer(from, "")
	n.dispatch(from, frame)
}

// dispatch hands a frame to the message handler. A panicking handler only
// loses that message.
func (n *Node) dispatch(from peer.ID, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			klog.P2P.Error().Interface("panic", r).Str("peer", shortID(from)).Msg("Message handler panicked")
		}
	}()
	if n.msgHandler != nil {
		n.msgHandler(from, frame)
	}
}

// SendTo delivers one frame to a peer on a fresh stream.
func (n *Node) SendTo(ctx context.Context, to peer.ID, frame []byte) error {
	if n.host == nil {
		return fmt.Errorf("p2p node not started")
	}
	if len(frame) > maxFrameBytes {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(frame))
	}

	stream, err := n.host.NewStream(ctx, to, MessageProtocol)
	if err != nil {
		return fmt.Errorf("open message stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	if _, err := stream.Write(frame); err != nil {
		stream.Reset()
		return fmt.Errorf("write message: %w", err)
	}
	return stream.CloseWrite()
}

// RandomPeers returns up to count distinct connected peers in random order.
func (n *Node) RandomPeers(count int) []peer.ID {
	if count <= 0 {
		return nil
	}
	n.mu.RLock()
	ids := make([]peer.ID, 0, len(n.peers))
	for id := range n.peers {
		if n.BanManager != nil && n.BanManager.IsBanned(id) {
			continue
		}
		ids = append(ids, id)
	}
	n.mu.RUnlock()

	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if len(ids) > count {
		ids = ids[:count]
	}
	return ids
}

// Penalize records a protocol offense against a peer.
func (n *Node) Penalize(id peer.ID, penalty int, reason string) {
	if n.BanManager != nil {
		n.BanManager.RecordOffense(id, penalty, reason)
	}
}
