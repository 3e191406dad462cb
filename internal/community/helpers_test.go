package community

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/xchain/internal/chain"
	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/message"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

type sentFrame struct {
	to    peer.ID
	id    message.ID
	frame []byte
}

// hub delivers frames between in-process services.
type hub struct {
	mu       sync.Mutex
	services map[peer.ID]*Service
}

func newHub() *hub { return &hub{services: make(map[peer.ID]*Service)} }

func (h *hub) get(id peer.ID) *Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.services[id]
}

// fakeNet is a Transport recording sends and penalties.
type fakeNet struct {
	self peer.ID
	hub  *hub

	mu        sync.Mutex
	peers     []peer.ID
	sent      []sentFrame
	penalties map[peer.ID]int
	chains    map[types.PublicKey]peer.ID
}

func newFakeNet(self peer.ID, peers ...peer.ID) *fakeNet {
	return &fakeNet{
		self:      self,
		peers:     peers,
		penalties: make(map[peer.ID]int),
		chains:    make(map[types.PublicKey]peer.ID),
	}
}

func (f *fakeNet) SendTo(_ context.Context, to peer.ID, frame []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentFrame{to: to, id: message.ID(frame[0]), frame: frame})
	f.mu.Unlock()
	if f.hub != nil {
		if svc := f.hub.get(to); svc != nil {
			svc.HandleMessage(f.self, frame)
		}
	}
	return nil
}

func (f *fakeNet) RandomPeers(count int) []peer.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if count > len(f.peers) {
		count = len(f.peers)
	}
	return append([]peer.ID(nil), f.peers[:count]...)
}

func (f *fakeNet) Penalize(id peer.ID, penalty int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.penalties[id] += penalty
}

func (f *fakeNet) PeerByChain(pk types.PublicKey) (peer.ID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.chains[pk]
	return id, ok
}

func (f *fakeNet) sends() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeNet) penalty(id peer.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.penalties[id]
}

func (f *fakeNet) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Fanout = 3
	cfg.SendTimeout = time.Second
	cfg.CrawlTimeout = 2 * time.Second
	cfg.AnnounceInterval = 0
	return cfg
}

func newKey(t *testing.T) *crypto.NaClKey {
	t.Helper()
	key, err := crypto.GenerateNaClKey()
	require.NoError(t, err)
	return key
}

func newTestChain(t *testing.T) *chain.Chain {
	t.Helper()
	ch, err := chain.New(storage.NewMemory(), newKey(t))
	require.NoError(t, err)
	return ch
}

func newTestService(t *testing.T, net *fakeNet) *Service {
	t.Helper()
	return newTestServiceWith(t, testConfig(), newTestChain(t), net)
}

func newTestServiceWith(t *testing.T, cfg Config, ch *chain.Chain, net *fakeNet) *Service {
	t.Helper()
	s, err := New(cfg, ch, net)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

// joinHub registers a service under id and routes its sends through h.
func joinHub(h *hub, id peer.ID, s *Service, net *fakeNet) {
	net.hub = h
	h.mu.Lock()
	h.services[id] = s
	h.mu.Unlock()
}
