package p2p

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/golang/snappy"
	"github.com/libp2p/go-libp2p/core/peer"
)

// genesisOf builds a signed genesis block for key.
func genesisOf(t *testing.T, key crypto.Signer) *block.Block {
	t.Helper()
	b, err := block.Build(chainlessStore{}, key, block.Proposal{Type: "test", Transaction: block.Transaction{"n": 1.0}}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	return b
}

// chainlessStore has no blocks, so every build is a genesis block.
type chainlessStore struct{}

func (chainlessStore) GetLatest(types.PublicKey) (*block.Block, error) { return nil, nil }

func TestHeadAnnouncement_SignVerify(t *testing.T) {
	key, err := crypto.GenerateNaClKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	head := genesisOf(t, key)

	a, err := NewHeadAnnouncement(key, head, time.UnixMilli(1700000000123))
	if err != nil {
		t.Fatalf("NewHeadAnnouncement: %v", err)
	}
	if a.Seq != head.Seq || a.Hash != head.Hash() || a.PublicKey != key.PublicKey() {
		t.Error("announcement does not describe the head")
	}
	if a.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %d", a.Timestamp)
	}
	if !VerifyHeadAnnouncement(a) {
		t.Fatal("valid announcement should verify")
	}

	tampered := *a
	tampered.Seq++
	if VerifyHeadAnnouncement(&tampered) {
		t.Error("tampered announcement should not verify")
	}

	zeroSeq := *a
	zeroSeq.Seq = 0
	if VerifyHeadAnnouncement(&zeroSeq) {
		t.Error("announcement below genesis should not verify")
	}
}

func TestHeadAnnouncement_EncodeDecode(t *testing.T) {
	key, _ := crypto.GenerateNaClKey()
	a, err := NewHeadAnnouncement(key, genesisOf(t, key), time.Now())
	if err != nil {
		t.Fatalf("NewHeadAnnouncement: %v", err)
	}

	data, err := EncodeHeadAnnouncement(a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeHeadAnnouncement(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.PublicKey != a.PublicKey || got.Seq != a.Seq || got.Hash != a.Hash ||
		got.Timestamp != a.Timestamp || !bytes.Equal(got.Signature, a.Signature) {
		t.Error("decoded announcement differs")
	}
	if !VerifyHeadAnnouncement(got) {
		t.Error("decoded announcement should verify")
	}
}

func TestDecodeHeadAnnouncement_Rejects(t *testing.T) {
	if _, err := DecodeHeadAnnouncement([]byte("not snappy")); err == nil {
		t.Error("garbage should not decode")
	}
	huge := snappy.Encode(nil, bytes.Repeat([]byte{' '}, maxAnnouncementBytes+1))
	if _, err := DecodeHeadAnnouncement(huge); err != errAnnouncementTooLarge {
		t.Errorf("oversized: err = %v", err)
	}
	if _, err := DecodeHeadAnnouncement(snappy.Encode(nil, []byte("{"))); err == nil {
		t.Error("bad JSON should not decode")
	}
}

func TestNode_BroadcastHead_NotJoined(t *testing.T) {
	n := New(Config{})
	if err := n.BroadcastHead(&HeadAnnouncement{}); err == nil {
		t.Error("BroadcastHead should fail before JoinHeads")
	}
	if err := n.JoinHeads(); err == nil {
		t.Error("JoinHeads should fail before Start")
	}
}

func TestTwoNodes_HeadAnnouncement(t *testing.T) {
	nodeA := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, DB: storage.NewMemory()})
	if err := nodeA.Start(); err != nil {
		t.Fatalf("start nodeA: %v", err)
	}
	t.Cleanup(func() { nodeA.Stop() })
	nodeB := startTestNode(t)

	var (
		got  atomic.Pointer[HeadAnnouncement]
		from atomic.Value
	)
	nodeB.SetHeadHandler(func(p peer.ID, a *HeadAnnouncement) {
		from.Store(p)
		got.Store(a)
	})
	if err := nodeA.JoinHeads(); err != nil {
		t.Fatalf("JoinHeads A: %v", err)
	}
	if err := nodeB.JoinHeads(); err != nil {
		t.Fatalf("JoinHeads B: %v", err)
	}
	connectNodes(t, nodeA, nodeB)
	time.Sleep(500 * time.Millisecond)

	key, _ := crypto.GenerateNaClKey()
	a, err := NewHeadAnnouncement(key, genesisOf(t, key), time.Now())
	if err != nil {
		t.Fatalf("NewHeadAnnouncement: %v", err)
	}
	if err := nodeA.BroadcastHead(a); err != nil {
		t.Fatalf("BroadcastHead: %v", err)
	}

	waitFor(t, "announcement on nodeB", func() bool { return got.Load() != nil })
	if got.Load().PublicKey != key.PublicKey() {
		t.Error("wrong announcement delivered")
	}
	if from.Load().(peer.ID) != nodeA.ID() {
		t.Errorf("from = %s, want nodeA", from.Load())
	}

	// A forged announcement is dropped and costs the publisher.
	forged := *a
	forged.Seq = 99
	if err := nodeA.BroadcastHead(&forged); err != nil {
		t.Fatalf("BroadcastHead forged: %v", err)
	}
	waitFor(t, "penalty on nodeA", func() bool { return nodeB.BanManager.Score(nodeA.ID()) > 0 })
	if got.Load().Seq == 99 {
		t.Error("forged announcement reached the handler")
	}
}
