package registry

import (
	"sync"

	"github.com/Klingon-tech/xchain/pkg/block"
)

// BlockSigner decides whether to answer a proposal addressed to this peer.
// It returns the agreement's transaction, or ok=false to decline.
type BlockSigner interface {
	OnSignatureRequest(proposal *block.Block, tx block.Transaction) (agreementTx block.Transaction, ok bool)
}

// SignerFunc adapts a function to BlockSigner.
type SignerFunc func(proposal *block.Block, tx block.Transaction) (block.Transaction, bool)

// OnSignatureRequest calls f.
func (f SignerFunc) OnSignatureRequest(p *block.Block, tx block.Transaction) (block.Transaction, bool) {
	return f(p, tx)
}

// Signers maps a block type to its single signer.
type Signers struct {
	mu sync.RWMutex
	m  map[string]BlockSigner
}

// NewSigners returns an empty registry.
func NewSigners() *Signers {
	return &Signers{m: make(map[string]BlockSigner)}
}

// Register sets the signer for blockType, replacing any previous one.
func (r *Signers) Register(blockType string, s BlockSigner) {
	r.mu.Lock()
	r.m[blockType] = s
	r.mu.Unlock()
}

// Unregister removes the signer for blockType.
func (r *Signers) Unregister(blockType string) {
	r.mu.Lock()
	delete(r.m, blockType)
	r.mu.Unlock()
}

// Get returns the signer for blockType, if any.
func (r *Signers) Get(blockType string) (BlockSigner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[blockType]
	return s, ok
}

// Types returns the block types that have a signer.
func (r *Signers) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for t := range r.m {
		out = append(out, t)
	}
	return out
}
