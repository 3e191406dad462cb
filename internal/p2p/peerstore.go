package p2p

import (
	"time"

	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	peerKeyPrefix     = "peer/"
	staleThreshold    = 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 500
)

// PeerRecord is a persisted peer entry.
type PeerRecord struct {
	ID        string   `json:"id"`                   // base58 peer ID
	Addrs     []string `json:"addrs"`                // multiaddr strings
	LastSeen  int64    `json:"last_seen"`            // unix timestamp
	Source    string   `json:"source"`               // "dht", "mdns", "seed", "inbound"
	PublicKey string   `json:"public_key,omitempty"` // hex chain identity from the handshake
}

// PeerStore persists peer records under the "peer/" prefix.
type PeerStore struct {
	table recordTable[PeerRecord]
}

// NewPeerStore creates a new PeerStore backed by the given DB.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{table: recordTable[PeerRecord]{db: db, prefix: peerKeyPrefix, name: "peer"}}
}

// Save persists a peer record. If the store already has maxPersistedPeers
// records and this is a new peer, the save is silently skipped.
func (ps *PeerStore) Save(rec PeerRecord) error {
	exists, err := ps.table.has(rec.ID)
	if err != nil {
		return err
	}
	if !exists {
		count, err := ps.Count()
		if err != nil {
			return err
		}
		if count >= maxPersistedPeers {
			return nil
		}
	}
	return ps.table.put(rec.ID, &rec)
}

// Load retrieves a single peer record by ID.
func (ps *PeerStore) Load(id peer.ID) (*PeerRecord, error) {
	return ps.table.get(id.String())
}

// LoadAll returns all persisted peer records.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var records []PeerRecord
	err := ps.table.forEach(func(rec *PeerRecord) error {
		records = append(records, *rec)
		return nil
	})
	return records, err
}

// Delete removes a peer record.
func (ps *PeerStore) Delete(id peer.ID) error {
	return ps.table.delete(id.String())
}

// PruneStale removes records older than the given threshold. Returns the number pruned.
func (ps *PeerStore) PruneStale(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	return ps.table.prune(func(rec *PeerRecord) bool { return rec.LastSeen < cutoff })
}

// Count returns the number of persisted peer records.
func (ps *PeerStore) Count() (int, error) {
	return ps.table.count()
}
