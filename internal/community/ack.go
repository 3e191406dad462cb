package community

import (
	"github.com/Klingon-tech/xchain/internal/registry"
	"github.com/Klingon-tech/xchain/pkg/block"
)

// AckBlockType is the block type answered by AckSigner.
const AckBlockType = "xchain-ack"

// AckSigner agrees to every proposal of its type. The agreement echoes the
// proposal's transaction under "ack".
type AckSigner struct{}

// OnSignatureRequest implements registry.BlockSigner.
func (AckSigner) OnSignatureRequest(proposal *block.Block, tx block.Transaction) (block.Transaction, bool) {
	return block.Transaction{"ack": tx, "proposal": proposal.ID()}, true
}

// RegisterAck installs AckSigner for AckBlockType.
func RegisterAck(signers *registry.Signers) {
	signers.Register(AckBlockType, AckSigner{})
}
