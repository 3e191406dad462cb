package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/types"
)

// Key layout of the block store.
var (
	prefixBlock = []byte("b/") // b/<pk(74)><seq(4)> -> insertTime(8) | half block payload
	prefixHash  = []byte("h/") // h/<hash(32)>       -> pk(74) | seq(4)
	prefixLink  = []byte("l/") // l/<pk(74)><seq(4)> -> pk(74) | seq(4) of the agreement answering it
	prefixHead  = []byte("k/") // k/<pk(74)>         -> latest seq(4)
	keyCount    = []byte("s/count")
)

const blockRefSize = types.PublicKeySize + 4

// BlockStore persists blocks of every known chain. A missing block is
// reported as (nil, nil).
type BlockStore struct {
	db  storage.DB
	now func() time.Time

	// mu serializes Put: the head pointer and the block counter are
	// read-modify-write across chains.
	mu sync.Mutex
}

// NewBlockStore returns a block store over db.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db, now: time.Now}
}

func blockRef(pk types.PublicKey, seq uint32) []byte {
	ref := make([]byte, 0, blockRefSize)
	ref = append(ref, pk[:]...)
	return binary.BigEndian.AppendUint32(ref, seq)
}

func parseRef(ref []byte) (types.PublicKey, uint32, error) {
	if len(ref) != blockRefSize {
		return types.PublicKey{}, 0, fmt.Errorf("corrupt block reference: %d bytes", len(ref))
	}
	var pk types.PublicKey
	copy(pk[:], ref)
	return pk, binary.BigEndian.Uint32(ref[types.PublicKeySize:]), nil
}

func withPrefix(prefix, k []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(k))
	out = append(out, prefix...)
	return append(out, k...)
}

func blockKey(pk types.PublicKey, seq uint32) []byte { return withPrefix(prefixBlock, blockRef(pk, seq)) }
func chainPrefix(pk types.PublicKey) []byte         { return withPrefix(prefixBlock, pk[:]) }
func hashKey(h types.Hash) []byte                   { return withPrefix(prefixHash, h[:]) }
func linkKey(pk types.PublicKey, seq uint32) []byte { return withPrefix(prefixLink, blockRef(pk, seq)) }
func headKey(pk types.PublicKey) []byte             { return withPrefix(prefixHead, pk[:]) }

func encodeStored(b *block.Block, inserted time.Time) []byte {
	out := make([]byte, 8, 8+b.EncodedSize())
	binary.BigEndian.PutUint64(out, uint64(inserted.UnixMilli()))
	return b.AppendEncode(out)
}

func decodeStored(data []byte) (*block.Block, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("corrupt stored block: %d bytes", len(data))
	}
	b, err := block.Decode(data[8:])
	if err != nil {
		return nil, fmt.Errorf("stored block: %w", err)
	}
	b.InsertTime = time.UnixMilli(int64(binary.BigEndian.Uint64(data)))
	return b, nil
}

// Put stores b and its indexes in one batch. Storing a block twice
// overwrites it.
func (bs *BlockStore) Put(b *block.Block) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	batch := storage.NewBatch(bs.db)
	ref := blockRef(b.PublicKey, b.Seq)

	if err := batch.Put(blockKey(b.PublicKey, b.Seq), encodeStored(b, bs.now())); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	if err := batch.Put(hashKey(b.Hash()), ref); err != nil {
		return fmt.Errorf("hash index put: %w", err)
	}
	if b.IsAgreement() {
		if err := batch.Put(linkKey(b.LinkPublicKey, b.LinkSeq), ref); err != nil {
			return fmt.Errorf("link index put: %w", err)
		}
	}

	head, err := bs.LatestSeq(b.PublicKey)
	if err != nil {
		return err
	}
	if b.Seq > head {
		if err := batch.Put(headKey(b.PublicKey), binary.BigEndian.AppendUint32(nil, b.Seq)); err != nil {
			return fmt.Errorf("head put: %w", err)
		}
	}

	known, err := bs.db.Has(blockKey(b.PublicKey, b.Seq))
	if err != nil {
		return fmt.Errorf("block has: %w", err)
	}
	if !known {
		count, err := bs.Count()
		if err != nil {
			return err
		}
		if err := batch.Put(keyCount, binary.BigEndian.AppendUint64(nil, count+1)); err != nil {
			return fmt.Errorf("count put: %w", err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("block commit %s: %w", b.ID(), err)
	}
	return nil
}

// Get returns the block at seq in pk's chain.
func (bs *BlockStore) Get(pk types.PublicKey, seq uint32) (*block.Block, error) {
	data, err := bs.db.Get(blockKey(pk, seq))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	return decodeStored(data)
}

// GetByHash returns the block with hash h.
func (bs *BlockStore) GetByHash(h types.Hash) (*block.Block, error) {
	ref, err := bs.db.Get(hashKey(h))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hash index get: %w", err)
	}
	pk, seq, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	return bs.Get(pk, seq)
}

// Contains reports whether a block with b's hash is stored.
func (bs *BlockStore) Contains(b *block.Block) (bool, error) {
	return bs.db.Has(hashKey(b.Hash()))
}

// LatestSeq returns the highest stored sequence number of pk's chain, or 0.
func (bs *BlockStore) LatestSeq(pk types.PublicKey) (uint32, error) {
	data, err := bs.db.Get(headKey(pk))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("head get: %w", err)
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("corrupt head of %s", pk.Short())
	}
	return binary.BigEndian.Uint32(data), nil
}

// GetLatest returns the head of pk's chain.
func (bs *BlockStore) GetLatest(pk types.PublicKey) (*block.Block, error) {
	seq, err := bs.LatestSeq(pk)
	if err != nil || seq == 0 {
		return nil, err
	}
	return bs.Get(pk, seq)
}

// GetBlockBefore returns the closest stored block of b's chain below b.Seq.
func (bs *BlockStore) GetBlockBefore(b *block.Block) (*block.Block, error) {
	if b.Seq == 0 {
		return nil, nil
	}
	return bs.seekOne(b.PublicKey, b.Seq-1, true)
}

// GetBlockAfter returns the closest stored block of b's chain above b.Seq.
func (bs *BlockStore) GetBlockAfter(b *block.Block) (*block.Block, error) {
	if b.Seq == ^uint32(0) {
		return nil, nil
	}
	return bs.seekOne(b.PublicKey, b.Seq+1, false)
}

func (bs *BlockStore) seekOne(pk types.PublicKey, from uint32, reverse bool) (*block.Block, error) {
	var found *block.Block
	err := bs.db.Seek(chainPrefix(pk), blockKey(pk, from), reverse, func(_, value []byte) error {
		b, err := decodeStored(value)
		if err != nil {
			return err
		}
		found = b
		return storage.ErrStop
	})
	if err != nil {
		return nil, fmt.Errorf("block seek: %w", err)
	}
	return found, nil
}

// GetLinked returns the other half of b's interaction: the agreement
// answering a proposal, or the proposal an agreement links to.
func (bs *BlockStore) GetLinked(b *block.Block) (*block.Block, error) {
	if b.IsAgreement() {
		return bs.Get(b.LinkPublicKey, b.LinkSeq)
	}
	ref, err := bs.db.Get(linkKey(b.PublicKey, b.Seq))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("link index get: %w", err)
	}
	pk, seq, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	return bs.Get(pk, seq)
}

// GetRange returns the stored blocks of pk's chain with from <= seq <= to in
// ascending order, at most limit of them (0 means no limit).
func (bs *BlockStore) GetRange(pk types.PublicKey, from, to uint32, limit int) ([]*block.Block, error) {
	var out []*block.Block
	err := bs.db.Seek(chainPrefix(pk), blockKey(pk, from), false, func(_, value []byte) error {
		b, err := decodeStored(value)
		if err != nil {
			return err
		}
		if b.Seq > to {
			return storage.ErrStop
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			return storage.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("block range: %w", err)
	}
	return out, nil
}

// KnownKeys returns the public keys of every chain with stored blocks.
func (bs *BlockStore) KnownKeys() ([]types.PublicKey, error) {
	var keys []types.PublicKey
	err := bs.db.ForEach(prefixHead, func(key, _ []byte) error {
		pk, ok := types.PublicKeyFromBytes(key[len(prefixHead):])
		if !ok {
			return fmt.Errorf("corrupt head key %x", key)
		}
		keys = append(keys, pk)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("known keys: %w", err)
	}
	return keys, nil
}

// Count returns the number of stored blocks.
func (bs *BlockStore) Count() (uint64, error) {
	data, err := bs.db.Get(keyCount)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count get: %w", err)
	}
	if len(data) != 8 {
		return 0, errors.New("corrupt block count")
	}
	return binary.BigEndian.Uint64(data), nil
}
