package block

import (
	"sort"
	"testing"
	"time"

	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
)

// memStore is a ChainStore over an in-memory map, sorted by sequence number.
type memStore struct {
	chains map[types.PublicKey][]*Block
	err    error
}

func newMemStore() *memStore {
	return &memStore{chains: make(map[types.PublicKey][]*Block)}
}

func (m *memStore) add(blocks ...*Block) {
	for _, b := range blocks {
		c := append(m.chains[b.PublicKey], b)
		sort.Slice(c, func(i, j int) bool { return c[i].Seq < c[j].Seq })
		m.chains[b.PublicKey] = c
	}
}

func (m *memStore) GetLatest(pk types.PublicKey) (*Block, error) {
	if m.err != nil {
		return nil, m.err
	}
	c := m.chains[pk]
	if len(c) == 0 {
		return nil, nil
	}
	return c[len(c)-1], nil
}

func (m *memStore) GetBlockBefore(b *Block) (*Block, error) {
	if m.err != nil {
		return nil, m.err
	}
	var found *Block
	for _, c := range m.chains[b.PublicKey] {
		if c.Seq < b.Seq {
			found = c
		}
	}
	return found, nil
}

func (m *memStore) GetBlockAfter(b *Block) (*Block, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, c := range m.chains[b.PublicKey] {
		if c.Seq > b.Seq {
			return c, nil
		}
	}
	return nil, nil
}

var testNow = time.UnixMilli(1_700_000_000_000)

func testKey(t *testing.T) crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateNaClKey()
	if err != nil {
		t.Fatalf("GenerateNaClKey() error: %v", err)
	}
	return key
}

// buildChain builds n proposals for key, adding each to store as it goes.
func buildChain(t *testing.T, store *memStore, key crypto.Signer, n int) []*Block {
	t.Helper()
	chain := make([]*Block, 0, n)
	for i := 0; i < n; i++ {
		b, err := Build(store, key, Proposal{
			Type:        "test",
			Transaction: Transaction{"i": i},
		}, testNow.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Build(%d) error: %v", i, err)
		}
		store.add(b)
		chain = append(chain, b)
	}
	return chain
}

// validBlock returns a signed genesis proposal.
func validBlock(t *testing.T) *Block {
	t.Helper()
	return buildChain(t, newMemStore(), testKey(t), 1)[0]
}
