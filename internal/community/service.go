// Package community disseminates blocks between peers: direct and fanout
// sends of blocks and proposal/agreement pairs, relay of broadcasts with a
// bounded suppression set, chain crawling and head announcements.
package community

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/xchain/internal/chain"
	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/internal/p2p"
	"github.com/Klingon-tech/xchain/pkg/message"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"
)

// Transport is the peer network the service sends through.
type Transport interface {
	SendTo(ctx context.Context, to peer.ID, frame []byte) error
	RandomPeers(count int) []peer.ID
	Penalize(id peer.ID, penalty int, reason string)
}

// ChainPeers resolves a chain public key to a connected peer.
type ChainPeers interface {
	PeerByChain(pk types.PublicKey) (peer.ID, bool)
}

// HeadBroadcaster publishes chain head announcements.
type HeadBroadcaster interface {
	BroadcastHead(a *p2p.HeadAnnouncement) error
}

// Config holds dissemination settings.
type Config struct {
	Fanout        int           // peers per broadcast
	DefaultTTL    uint32        // hop budget when a send passes ttl 0
	RelayTTL      time.Duration // how long a relayed block id suppresses relays
	RelayCapacity int           // relayed ids kept before LRU eviction
	SendTimeout   time.Duration // per-peer send timeout

	CrawlRate      float64       // crawl requests per second accepted from one peer
	CrawlBurst     int           // crawl request burst per peer
	CrawlTimeout   time.Duration // default wait for a crawl answer
	MaxCrawlBlocks uint32        // blocks per crawl answer

	AnnounceInterval time.Duration // 0 disables head announcements
}

// DefaultConfig returns the default dissemination settings.
func DefaultConfig() Config {
	return Config{
		Fanout:           25,
		DefaultTTL:       1,
		RelayTTL:         10 * time.Minute,
		RelayCapacity:    10_000,
		SendTimeout:      10 * time.Second,
		CrawlRate:        2,
		CrawlBurst:       10,
		CrawlTimeout:     30 * time.Second,
		MaxCrawlBlocks:   500,
		AnnounceInterval: time.Minute,
	}
}

// limiterCacheSize bounds the per-peer crawl limiters kept in memory.
const limiterCacheSize = 1024

// Service runs the block dissemination protocol for one local chain.
type Service struct {
	cfg   Config
	chain *chain.Chain
	net   Transport

	// Optional collaborators.
	peers ChainPeers
	heads HeadBroadcaster

	relayed  *relaySet
	limiters *expirable.LRU[peer.ID, *rate.Limiter]

	crawlMu    sync.Mutex
	crawls     map[uint32]*pendingCrawl
	headCrawls map[types.PublicKey]struct{} // chains with a head crawl running
	crawlID    atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates a service for ch sending through net.
func New(cfg Config, ch *chain.Chain, net Transport) (*Service, error) {
	if ch == nil {
		return nil, errors.New("chain is nil")
	}
	if net == nil {
		return nil, errors.New("transport is nil")
	}
	if cfg.Fanout < 1 {
		return nil, fmt.Errorf("fanout must be at least 1, got %d", cfg.Fanout)
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 1
	}
	if cfg.MaxCrawlBlocks == 0 {
		cfg.MaxCrawlBlocks = DefaultConfig().MaxCrawlBlocks
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		chain:    ch,
		net:      net,
		relayed:  newRelaySet(cfg.RelayCapacity, cfg.RelayTTL),
		limiters: expirable.NewLRU[peer.ID, *rate.Limiter](limiterCacheSize, nil, 10*time.Minute),
		crawls:   make(map[uint32]*pendingCrawl),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
	s.headCrawls = make(map[types.PublicKey]struct{})
	s.crawlID.Store(randomCrawlID())
	return s, nil
}

// SetChainPeers lets the service address proposals to the peer owning the
// counterparty chain.
func (s *Service) SetChainPeers(p ChainPeers) { s.peers = p }

// SetHeadBroadcaster enables periodic head announcements.
func (s *Service) SetHeadBroadcaster(h HeadBroadcaster) { s.heads = h }

// Start launches the background loops.
func (s *Service) Start() {
	if s.heads != nil && s.cfg.AnnounceInterval > 0 {
		s.wg.Add(1)
		go s.runAnnounceLoop()
	}
}

// Stop cancels in-flight sends and crawls and waits for the background
// goroutines.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

// HandleMessage dispatches one frame received from a peer.
func (s *Service) HandleMessage(from peer.ID, frame []byte) {
	id, payload, err := message.SplitFrame(frame)
	if err != nil {
		klog.Community.Debug().Err(err).Str("peer", from.String()).Msg("Bad frame")
		s.net.Penalize(from, p2p.PenaltyMalformedMessage, "bad frame")
		return
	}

	switch id {
	case message.HalfBlock:
		s.onHalfBlock(from, payload)
	case message.HalfBlockBroadcast:
		s.onHalfBlockBroadcast(from, payload)
	case message.HalfBlockPair:
		s.onHalfBlockPair(from, payload)
	case message.HalfBlockPairBroadcast:
		s.onHalfBlockPairBroadcast(from, payload)
	case message.CrawlRequest:
		s.onCrawlRequest(from, payload)
	case message.CrawlResponse:
		s.onCrawlResponse(from, payload)
	case message.EmptyCrawlResponse:
		s.onEmptyCrawlResponse(from, payload)
	}
}

// malformed drops a payload that failed to decode and penalizes its sender.
func (s *Service) malformed(from peer.ID, id message.ID, err error) {
	klog.Community.Debug().Err(err).Str("peer", from.String()).Stringer("msg", id).Msg("Malformed payload")
	s.net.Penalize(from, p2p.PenaltyMalformedMessage, "malformed "+id.String())
}
