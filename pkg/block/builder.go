package block

import (
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/Klingon-tech/xchain/pkg/wire"
)

// Construction errors. They are returned before any block exists.
var (
	ErrMissingType    = errors.New("block type is empty")
	ErrMissingLink    = errors.New("agreement has no proposal to link")
	ErrLinkNotPropose = errors.New("agreement must link a proposal")
	ErrNilSigner      = errors.New("nil signer")
	ErrNilVariant     = errors.New("nil block variant")
	ErrFieldTooLarge  = errors.New("block field exceeds the wire limit")
)

// encodeFields encodes tx and checks that both varlen fields of the block
// will decode on the receiving side.
func encodeFields(blockType string, tx Transaction) ([]byte, error) {
	if len(blockType) > wire.MaxVarlen {
		return nil, fmt.Errorf("%w: type is %d bytes", ErrFieldTooLarge, len(blockType))
	}
	raw, err := EncodeTransaction(tx)
	if err != nil {
		return nil, err
	}
	if len(raw) > wire.MaxVarlen {
		return nil, fmt.Errorf("%w: transaction is %d bytes", ErrFieldTooLarge, len(raw))
	}
	return raw, nil
}

// Variant supplies the type-specific fields of a new block. The only
// implementations are Proposal and Agreement.
type Variant interface {
	fill(b *Block) error
}

// Proposal is a unilateral block awaiting an agreement. A zero Counterparty
// means any peer may answer.
type Proposal struct {
	Type         string
	Transaction  Transaction
	Counterparty types.PublicKey
}

func (p Proposal) fill(b *Block) error {
	if p.Type == "" {
		return ErrMissingType
	}
	raw, err := encodeFields(p.Type, p.Transaction)
	if err != nil {
		return err
	}
	b.Type = p.Type
	b.RawTx = raw
	b.LinkPublicKey = p.Counterparty
	if p.Counterparty == (types.PublicKey{}) {
		b.LinkPublicKey = types.AnyCounterparty
	}
	b.LinkSeq = UnknownSeq
	return nil
}

// Agreement co-signs Link, copying its type and binding to its identity.
type Agreement struct {
	Link        *Block
	Transaction Transaction
}

func (a Agreement) fill(b *Block) error {
	if a.Link == nil {
		return ErrMissingLink
	}
	if !a.Link.IsProposal() {
		return fmt.Errorf("%w: %s links %s", ErrLinkNotPropose, a.Link.ID(), a.Link.LinkedID())
	}
	raw, err := encodeFields(a.Link.Type, a.Transaction)
	if err != nil {
		return err
	}
	b.Type = a.Link.Type
	b.RawTx = raw
	b.LinkPublicKey = a.Link.PublicKey
	b.LinkSeq = a.Link.Seq
	return nil
}

// LatestLookup finds the signer's current chain head.
type LatestLookup interface {
	GetLatest(pk types.PublicKey) (*Block, error)
}

// Build creates the signer's next block: it chains onto the latest block in
// store (or starts a genesis block), fills the variant's fields, and signs.
//
// Build does not persist the block. Callers serialize Build and the store
// write per signer.
func Build(store LatestLookup, signer crypto.Signer, v Variant, now time.Time) (*Block, error) {
	if signer == nil {
		return nil, ErrNilSigner
	}
	if v == nil {
		return nil, ErrNilVariant
	}
	pk := signer.PublicKey()

	b := &Block{
		PublicKey: pk,
		Signature: types.EmptySignature,
		Timestamp: uint64(now.UnixMilli()),
	}
	if err := v.fill(b); err != nil {
		return nil, fmt.Errorf("build block: %w", err)
	}

	latest, err := store.GetLatest(pk)
	if err != nil {
		return nil, fmt.Errorf("build block: latest of %s: %w", pk.Short(), err)
	}
	if latest != nil {
		b.Seq = latest.Seq + 1
		b.PrevHash = latest.Hash()
	} else {
		b.Seq = GenesisSeq
		b.PrevHash = types.GenesisHash
	}

	if err := b.Sign(signer); err != nil {
		return nil, err
	}
	return b, nil
}
