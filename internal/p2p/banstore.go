package p2p

import (
	"time"

	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

const banKeyPrefix = "ban/"

// BanRecord is one ban, keyed by the banned peer ID.
type BanRecord struct {
	ID        string          `json:"id"`             // base58 peer ID
	Chain     types.PublicKey `json:"chain,omitzero"` // chain identity the peer proved, if any
	Reason    string          `json:"reason"`         // offense that triggered the ban
	Score     int             `json:"score"`          // offense score at ban time
	BannedAt  int64           `json:"banned_at"`      // unix seconds
	ExpiresAt int64           `json:"expires_at"`     // unix seconds, 0 = never
}

// IsExpired returns true if the ban has a non-zero expiry that has passed.
func (r *BanRecord) IsExpired() bool {
	return r.expiredAt(time.Now().Unix())
}

func (r *BanRecord) expiredAt(now int64) bool {
	return r.ExpiresAt > 0 && now >= r.ExpiresAt
}

// BanStore persists ban records under the "ban/" prefix.
type BanStore struct {
	table recordTable[BanRecord]
}

// NewBanStore creates a new BanStore backed by the given DB.
func NewBanStore(db storage.DB) *BanStore {
	return &BanStore{table: recordTable[BanRecord]{db: db, prefix: banKeyPrefix, name: "ban"}}
}

// Get retrieves a ban record by peer ID.
func (bs *BanStore) Get(id peer.ID) (*BanRecord, error) {
	return bs.table.get(id.String())
}

// Put persists a ban record.
func (bs *BanStore) Put(rec *BanRecord) error {
	return bs.table.put(rec.ID, rec)
}

// Delete removes a ban record.
func (bs *BanStore) Delete(id peer.ID) error {
	return bs.table.delete(id.String())
}

// ForEach iterates over all ban records.
func (bs *BanStore) ForEach(fn func(*BanRecord) error) error {
	return bs.table.forEach(fn)
}

// PruneExpired removes all expired ban records. Returns the number pruned.
func (bs *BanStore) PruneExpired() (int, error) {
	now := time.Now().Unix()
	return bs.table.prune(func(rec *BanRecord) bool { return rec.expiredAt(now) })
}

// Clear removes every ban record. Returns the number removed.
func (bs *BanStore) Clear() (int, error) {
	return bs.table.prune(func(*BanRecord) bool { return true })
}
