package p2p

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/golang/snappy"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// maxAnnouncementBytes bounds a decoded head announcement.
	maxAnnouncementBytes = 4096

	// maxPubsubRPCBytes bounds one GossipSub RPC, which may batch several
	// announcements plus control messages.
	maxPubsubRPCBytes = 64 << 10
)

var errAnnouncementTooLarge = errors.New("head announcement too large")

// HeadAnnouncement is a signed statement of a peer's latest block.
type HeadAnnouncement struct {
	PublicKey types.PublicKey `json:"public_key"`
	Seq       uint32          `json:"seq"`
	Hash      types.Hash      `json:"hash"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Signature []byte          `json:"signature"` // over Digest(HeadSigningBytes)
}

// HeadSigningBytes returns the bytes that are signed/verified for an announcement.
func HeadSigningBytes(pk types.PublicKey, seq uint32, hash types.Hash, timestamp int64) []byte {
	buf := make([]byte, 0, types.PublicKeySize+4+32+8)
	buf = append(buf, pk[:]...)
	buf = binary.BigEndian.AppendUint32(buf, seq)
	buf = append(buf, hash[:]...)
	return binary.BigEndian.AppendUint64(buf, uint64(timestamp))
}

// NewHeadAnnouncement signs an announcement of head with key.
func NewHeadAnnouncement(key crypto.Signer, head *block.Block, now time.Time) (*HeadAnnouncement, error) {
	a := &HeadAnnouncement{
		PublicKey: key.PublicKey(),
		Seq:       head.Seq,
		Hash:      head.Hash(),
		Timestamp: now.UnixMilli(),
	}
	digest := crypto.Digest(HeadSigningBytes(a.PublicKey, a.Seq, a.Hash, a.Timestamp))
	sig, err := key.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign head announcement: %w", err)
	}
	a.Signature = sig
	return a, nil
}

// VerifyHeadAnnouncement checks the announcement signature.
func VerifyHeadAnnouncement(a *HeadAnnouncement) bool {
	if len(a.Signature) != types.SignatureSize || a.Seq < block.GenesisSeq {
		return false
	}
	digest := crypto.Digest(HeadSigningBytes(a.PublicKey, a.Seq, a.Hash, a.Timestamp))
	return crypto.VerifySignature(digest[:], a.Signature, a.PublicKey)
}

// EncodeHeadAnnouncement serializes an announcement as snappy-compressed JSON.
func EncodeHeadAnnouncement(a *HeadAnnouncement) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal head announcement: %w", err)
	}
	return snappy.Encode(nil, data), nil
}

// DecodeHeadAnnouncement parses an encoded announcement.
func DecodeHeadAnnouncement(data []byte) (*HeadAnnouncement, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("decompress head announcement: %w", err)
	}
	if n > maxAnnouncementBytes {
		return nil, errAnnouncementTooLarge
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress head announcement: %w", err)
	}
	var a HeadAnnouncement
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("unmarshal head announcement: %w", err)
	}
	return &a, nil
}

// SetHeadHandler registers a callback for verified incoming announcements.
// from is the peer that published the announcement.
func (n *Node) SetHeadHandler(fn func(from peer.ID, a *HeadAnnouncement)) {
	n.headHandler = fn
}

// JoinHeads joins the head announcement topic and starts reading.
func (n *Node) JoinHeads() error {
	if n.pubsub == nil {
		return fmt.Errorf("p2p node not started")
	}
	if n.topicHeads != nil {
		return nil
	}

	topic, err := n.pubsub.Join(HeadsTopic(n.config.NetworkID))
	if err != nil {
		return fmt.Errorf("join heads topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("subscribe heads topic: %w", err)
	}
	n.topicHeads = topic
	n.subHeads = sub

	go n.headsReadLoop(sub)
	return nil
}

// LeaveHeads unsubscribes from the head announcement topic.
func (n *Node) LeaveHeads() {
	if n.subHeads != nil {
		n.subHeads.Cancel()
		n.subHeads = nil
	}
	if n.topicHeads != nil {
		n.topicHeads.Close()
		n.topicHeads = nil
	}
}

// BroadcastHead publishes an announcement on the heads topic.
func (n *Node) BroadcastHead(a *HeadAnnouncement) error {
	if n.topicHeads == nil {
		return fmt.Errorf("heads topic not joined")
	}
	data, err := EncodeHeadAnnouncement(a)
	if err != nil {
		return err
	}
	return n.topicHeads.Publish(n.ctx, data)
}

func (n *Node) headsReadLoop(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled or subscription closed.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}

		a, err := DecodeHeadAnnouncement(msg.Data)
		if err != nil {
			n.Penalize(msg.ReceivedFrom, PenaltyMalformedMessage, "malformed head announcement")
			continue
		}
		if !VerifyHeadAnnouncement(a) {
			klog.P2P.Debug().Str("peer", shortID(msg.ReceivedFrom)).Msg("Head announcement with bad signature")
			n.Penalize(msg.ReceivedFrom, PenaltyInvalidBlock, "bad head announcement signature")
			continue
		}

		if n.headHandler != nil {
			func() {
				defer func() { recover() }()
				n.headHandler(msg.GetFrom(), a)
			}()
		}
	}
}
