package p2p

import (
	"sort"
	"sync"
	"time"

	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// A peer whose offense score reaches BanThreshold is banned for BanDuration.
const (
	BanThreshold = 100
	BanDuration  = 24 * time.Hour
)

// Offense penalties.
const (
	PenaltyInvalidBlock     = 50  // Block or announcement fails validation.
	PenaltyMalformedMessage = 20  // Frame does not decode.
	PenaltyCrawlFlood       = 5   // Crawl request over the rate limit.
	PenaltyHandshakeFail    = 100 // Wrong network, unproven or banned chain identity.
)

var _ connmgr.ConnectionGater = (*BanManager)(nil)

// BanManager scores peer offenses and holds the active bans. A ban covers the
// libp2p peer and the chain identity it proved in its handshake, so a banned
// chain cannot come back under a fresh peer ID. BanManager doubles as the
// host's connection gater.
type BanManager struct {
	store   *BanStore // nil disables persistence
	node    *Node     // nil disables disconnect on ban
	chainOf func(peer.ID) (types.PublicKey, bool)
	now     func() time.Time

	mu     sync.Mutex
	scores map[peer.ID]int
	peers  map[peer.ID]*BanRecord
	chains map[types.PublicKey]*BanRecord
}

// NewBanManager returns a ban manager. Either argument may be nil.
func NewBanManager(store *BanStore, node *Node) *BanManager {
	bm := &BanManager{
		store:  store,
		node:   node,
		now:    time.Now,
		scores: make(map[peer.ID]int),
		peers:  make(map[peer.ID]*BanRecord),
		chains: make(map[types.PublicKey]*BanRecord),
	}
	if node != nil {
		bm.chainOf = node.peerChain
	}
	return bm
}

// index must be called with bm.mu held.
func (bm *BanManager) index(id peer.ID, rec *BanRecord) {
	if id != "" {
		bm.peers[id] = rec
	}
	if !rec.Chain.IsEmpty() {
		bm.chains[rec.Chain] = rec
	}
}

// drop must be called with bm.mu held.
func (bm *BanManager) drop(id peer.ID, rec *BanRecord) {
	delete(bm.peers, id)
	if cur, ok := bm.chains[rec.Chain]; ok && cur == rec {
		delete(bm.chains, rec.Chain)
	}
}

// LoadBans restores unexpired bans from the store. A record whose peer ID no
// longer decodes still bans its chain.
func (bm *BanManager) LoadBans() {
	if bm.store == nil {
		return
	}
	if _, err := bm.store.PruneExpired(); err != nil {
		klog.P2P.Warn().Err(err).Msg("Pruning expired bans failed")
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	err := bm.store.ForEach(func(rec *BanRecord) error {
		id, err := peer.Decode(rec.ID)
		if err != nil {
			id = ""
		}
		bm.index(id, rec)
		return nil
	})
	if err != nil {
		klog.P2P.Warn().Err(err).Msg("Loading bans failed")
	}
}

// RecordOffense adds penalty to id's score. At BanThreshold the peer and its
// proven chain identity are banned and the peer is disconnected. Offenses of
// a banned peer are ignored.
func (bm *BanManager) RecordOffense(id peer.ID, penalty int, reason string) {
	// The node lock is taken before ours, never under it.
	var chain types.PublicKey
	if bm.chainOf != nil {
		chain, _ = bm.chainOf(id)
	}
	now := bm.now()

	bm.mu.Lock()
	if rec, ok := bm.peers[id]; ok {
		if !rec.expiredAt(now.Unix()) {
			bm.mu.Unlock()
			return
		}
		bm.drop(id, rec)
	}
	score := bm.scores[id] + penalty
	if score < BanThreshold {
		bm.scores[id] = score
		bm.mu.Unlock()
		return
	}
	delete(bm.scores, id)
	rec := &BanRecord{
		ID:        id.String(),
		Chain:     chain,
		Reason:    reason,
		Score:     score,
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.index(id, rec)
	bm.mu.Unlock()

	if bm.store != nil {
		if err := bm.store.Put(rec); err != nil {
			klog.P2P.Warn().Err(err).Str("peer", shortID(id)).Msg("Persisting ban failed")
		}
	}

	ev := klog.P2P.Warn().
		Str("peer", shortID(id)).
		Str("reason", reason).
		Int("score", score)
	if !chain.IsEmpty() {
		ev = ev.Str("chain", chain.Short())
	}
	ev.Msg("Peer banned")

	if bm.node != nil {
		go bm.node.DisconnectPeer(id)
	}
}

// Score returns the offense score of a peer that is not banned.
func (bm *BanManager) Score(id peer.ID) int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.scores[id]
}

// IsBanned reports whether id is banned. An expired ban is removed.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.Lock()
	rec, ok := bm.peers[id]
	expired := ok && rec.expiredAt(bm.now().Unix())
	if expired {
		bm.drop(id, rec)
	}
	bm.mu.Unlock()

	if expired && bm.store != nil {
		bm.store.Delete(id)
	}
	return ok && !expired
}

// IsChainBanned reports whether a peer proving pk was banned.
func (bm *BanManager) IsChainBanned(pk types.PublicKey) bool {
	if pk.IsEmpty() {
		return false
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	rec, ok := bm.chains[pk]
	return ok && !rec.expiredAt(bm.now().Unix())
}

// Unban lifts id's ban, including the ban on its chain identity, and resets
// its score.
func (bm *BanManager) Unban(id peer.ID) {
	bm.mu.Lock()
	if rec, ok := bm.peers[id]; ok {
		bm.drop(id, rec)
	}
	delete(bm.scores, id)
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.Delete(id)
	}
}

// ClearAll lifts every ban, persisted ones included, and forgets all
// scores. It returns the number of bans lifted.
func (bm *BanManager) ClearAll() int {
	bm.mu.Lock()
	n := len(bm.peers)
	bm.peers = make(map[peer.ID]*BanRecord)
	bm.chains = make(map[types.PublicKey]*BanRecord)
	bm.scores = make(map[peer.ID]int)
	bm.mu.Unlock()

	if bm.store != nil {
		if removed, err := bm.store.Clear(); err == nil {
			n = max(n, removed)
		}
	}
	return n
}

// BanList returns the active bans, oldest first.
func (bm *BanManager) BanList() []BanRecord {
	now := bm.now().Unix()
	bm.mu.Lock()
	list := make([]BanRecord, 0, len(bm.peers))
	for _, rec := range bm.peers {
		if !rec.expiredAt(now) {
			list = append(list, *rec)
		}
	}
	bm.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].BannedAt != list[j].BannedAt {
			return list[i].BannedAt < list[j].BannedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// RunPruneLoop drops expired bans every ten minutes until done is closed.
func (bm *BanManager) RunPruneLoop(done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			bm.pruneExpired()
		}
	}
}

func (bm *BanManager) pruneExpired() {
	now := bm.now().Unix()
	bm.mu.Lock()
	for id, rec := range bm.peers {
		if rec.expiredAt(now) {
			bm.drop(id, rec)
		}
	}
	for pk, rec := range bm.chains {
		if rec.expiredAt(now) {
			delete(bm.chains, pk)
		}
	}
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.PruneExpired()
	}
}

// InterceptPeerDial refuses to dial a banned peer.
func (bm *BanManager) InterceptPeerDial(p peer.ID) bool {
	return !bm.IsBanned(p)
}

// InterceptAddrDial allows every address. Bans are per peer.
func (bm *BanManager) InterceptAddrDial(peer.ID, ma.Multiaddr) bool {
	return true
}

// InterceptAccept allows inbound connections; the remote peer is not known
// yet.
func (bm *BanManager) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured refuses a banned peer once its peer ID is authenticated.
// Banned chain identities are refused later, in the handshake.
func (bm *BanManager) InterceptSecured(_ network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	return !bm.IsBanned(p)
}

// InterceptUpgraded allows every upgraded connection.
func (bm *BanManager) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
