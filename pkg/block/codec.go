package block

import (
	"fmt"

	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/Klingon-tech/xchain/pkg/wire"
)

// fixedPayloadSize is the size of a half block payload excluding its two
// varlen fields.
const fixedPayloadSize = types.PublicKeySize + 4 + types.PublicKeySize + 4 +
	types.HashSize + types.SignatureSize + 4 + 4 + 8

// EncodedSize returns the length of Encode's output.
func (b *Block) EncodedSize() int {
	return fixedPayloadSize + len(b.Type) + len(b.RawTx)
}

// Encode returns the half block payload:
//
//	publicKey(74) | seq(u32) | linkPublicKey(74) | linkSeq(u32) |
//	prevHash(32) | signature(64) | varlen(type) | varlen(tx) | timestamp(u64)
func (b *Block) Encode() []byte {
	return b.AppendEncode(make([]byte, 0, b.EncodedSize()))
}

// AppendEncode appends the half block payload to dst.
func (b *Block) AppendEncode(dst []byte) []byte {
	return b.appendPayload(dst, b.Signature)
}

func (b *Block) appendPayload(dst []byte, sig types.Signature) []byte {
	dst = append(dst, b.PublicKey[:]...)
	dst = wire.AppendUint32(dst, b.Seq)
	dst = append(dst, b.LinkPublicKey[:]...)
	dst = wire.AppendUint32(dst, b.LinkSeq)
	dst = append(dst, b.PrevHash[:]...)
	dst = append(dst, sig[:]...)
	dst = wire.AppendVarlen(dst, []byte(b.Type))
	dst = wire.AppendVarlen(dst, b.RawTx)
	dst = wire.AppendUint64(dst, b.Timestamp)
	return dst
}

// Decode parses a single half block payload. Trailing bytes are an error.
func Decode(data []byte) (*Block, error) {
	r := wire.NewReader(data)
	b := ReadFrom(r)
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode half block: %w", err)
	}
	return b, nil
}

// ReadFrom reads one half block payload from r. On failure it returns nil
// and r.Err() holds the cause.
func ReadFrom(r *wire.Reader) *Block {
	b := &Block{}
	r.Fixed(b.PublicKey[:], "public key")
	b.Seq = r.Uint32("sequence number")
	r.Fixed(b.LinkPublicKey[:], "link public key")
	b.LinkSeq = r.Uint32("link sequence number")
	r.Fixed(b.PrevHash[:], "previous hash")
	r.Fixed(b.Signature[:], "signature")
	b.Type = string(r.Varlen("block type"))
	b.RawTx = r.Varlen("transaction")
	b.Timestamp = r.Uint64("timestamp")
	if r.Err() != nil {
		return nil
	}
	return b
}
