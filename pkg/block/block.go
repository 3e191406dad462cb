// Package block defines the XChain half block, its wire encoding, its
// construction and its validation against a partially known chain store.
package block

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
)

// Sequence number sentinels.
const (
	GenesisSeq uint32 = 1 // First block of every chain.
	UnknownSeq uint32 = 0 // LinkSeq of a proposal.
)

// hashNumberModulus reduces a block hash to a crawl identifier.
var hashNumberModulus = big.NewInt(100_000_000)

var ErrUnsigned = errors.New("block is not signed")

// Block is one entry in a peer's chain. Agreements link back to the proposal
// they answer through LinkPublicKey and LinkSeq.
//
// A Block is not mutated after Sign.
type Block struct {
	Type          string
	RawTx         []byte
	PublicKey     types.PublicKey
	Seq           uint32
	LinkPublicKey types.PublicKey
	LinkSeq       uint32
	PrevHash      types.Hash
	Signature     types.Signature
	Timestamp     uint64 // Unix milliseconds.

	// InsertTime is set by the store when the block was persisted locally.
	// It is never hashed or transmitted.
	InsertTime time.Time
}

// ID returns "<hex public key>.<seq>".
func (b *Block) ID() string {
	return blockID(b.PublicKey, b.Seq)
}

// LinkedID returns the ID of the block this one links to.
func (b *Block) LinkedID() string {
	return blockID(b.LinkPublicKey, b.LinkSeq)
}

func blockID(pk types.PublicKey, seq uint32) string {
	return pk.String() + "." + strconv.FormatUint(uint64(seq), 10)
}

// IsGenesis reports whether b is the first block of its chain.
func (b *Block) IsGenesis() bool {
	return b.Seq == GenesisSeq && b.PrevHash == types.GenesisHash
}

// IsSelfSigned reports whether b links to its own signer.
func (b *Block) IsSelfSigned() bool {
	return b.PublicKey == b.LinkPublicKey
}

// IsProposal reports whether b is awaiting an agreement.
func (b *Block) IsProposal() bool {
	return b.LinkSeq == UnknownSeq
}

// IsAgreement reports whether b answers a proposal.
func (b *Block) IsAgreement() bool {
	return !b.IsProposal()
}

// Time returns the block timestamp.
func (b *Block) Time() time.Time {
	return time.UnixMilli(int64(b.Timestamp))
}

// SigningBytes returns the canonical unsigned serialization: the half block
// payload with the signature slot holding EmptySignature.
func (b *Block) SigningBytes() []byte {
	return b.appendPayload(make([]byte, 0, b.EncodedSize()), types.EmptySignature)
}

// Hash returns the SHA-256 of SigningBytes. Signing does not change it.
func (b *Block) Hash() types.Hash {
	return crypto.Hash(b.SigningBytes())
}

// HashNumber returns the hash as a big-endian integer modulo 10^8. Crawl
// requests use it as their identifier.
func (b *Block) HashNumber() uint32 {
	h := b.Hash()
	n := new(big.Int).SetBytes(h[:])
	return uint32(n.Mod(n, hashNumberModulus).Uint64())
}

// Sign signs the block hash with key and sets Signature.
func (b *Block) Sign(key crypto.Signer) error {
	h := b.Hash()
	sig, err := key.Sign(h[:])
	if err != nil {
		return fmt.Errorf("sign block %s: %w", b.ID(), err)
	}
	if len(sig) != types.SignatureSize {
		return fmt.Errorf("sign block %s: signature is %d bytes", b.ID(), len(sig))
	}
	copy(b.Signature[:], sig)
	return nil
}

// VerifySignature checks Signature over the unsigned serialization under
// PublicKey.
func (b *Block) VerifySignature() bool {
	if b.Signature.IsEmpty() {
		return false
	}
	h := b.Hash()
	return crypto.VerifySignature(h[:], b.Signature[:], b.PublicKey)
}

// Equal reports whether two blocks have the same content hash.
func (b *Block) Equal(other *Block) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Hash() == other.Hash()
}

// String implements fmt.Stringer.
func (b *Block) String() string {
	return fmt.Sprintf("Block(%s.%d type=%q link=%s.%d)",
		b.PublicKey.Short(), b.Seq, b.Type, b.LinkPublicKey.Short(), b.LinkSeq)
}

// blockJSON is the RPC representation of a Block.
type blockJSON struct {
	Hash          types.Hash      `json:"hash"`
	Type          string          `json:"type"`
	Transaction   string          `json:"transaction"`
	PublicKey     types.PublicKey `json:"public_key"`
	Seq           uint32          `json:"sequence_number"`
	LinkPublicKey types.PublicKey `json:"link_public_key"`
	LinkSeq       uint32          `json:"link_sequence_number"`
	PrevHash      types.Hash      `json:"previous_hash"`
	Signature     types.Signature `json:"signature"`
	Timestamp     uint64          `json:"timestamp"`
	InsertTime    *time.Time      `json:"insert_time,omitempty"`
}

// MarshalJSON encodes the block with hex fields and its hash.
func (b *Block) MarshalJSON() ([]byte, error) {
	j := blockJSON{
		Hash:          b.Hash(),
		Type:          b.Type,
		Transaction:   hex.EncodeToString(b.RawTx),
		PublicKey:     b.PublicKey,
		Seq:           b.Seq,
		LinkPublicKey: b.LinkPublicKey,
		LinkSeq:       b.LinkSeq,
		PrevHash:      b.PrevHash,
		Signature:     b.Signature,
		Timestamp:     b.Timestamp,
	}
	if !b.InsertTime.IsZero() {
		j.InsertTime = &b.InsertTime
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a block. The hash field is ignored.
func (b *Block) UnmarshalJSON(data []byte) error {
	var j blockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	raw, err := hex.DecodeString(j.Transaction)
	if err != nil {
		return fmt.Errorf("invalid transaction hex: %w", err)
	}
	*b = Block{
		Type:          j.Type,
		RawTx:         raw,
		PublicKey:     j.PublicKey,
		Seq:           j.Seq,
		LinkPublicKey: j.LinkPublicKey,
		LinkSeq:       j.LinkSeq,
		PrevHash:      j.PrevHash,
		Signature:     j.Signature,
		Timestamp:     j.Timestamp,
	}
	if j.InsertTime != nil {
		b.InsertTime = *j.InsertTime
	}
	return nil
}
