package message

import (
	"fmt"

	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/wire"
)

// HalfBlockPayload carries one block to a single peer.
type HalfBlockPayload struct {
	Block *block.Block
}

func (p *HalfBlockPayload) ID() ID         { return HalfBlock }
func (p *HalfBlockPayload) Encode() []byte { return p.Block.Encode() }

// HalfBlockBroadcastPayload is a block with a hop budget.
type HalfBlockBroadcastPayload struct {
	Block *block.Block
	TTL   uint32
}

func (p *HalfBlockBroadcastPayload) ID() ID { return HalfBlockBroadcast }

func (p *HalfBlockBroadcastPayload) Encode() []byte {
	out := p.Block.AppendEncode(make([]byte, 0, p.Block.EncodedSize()+4))
	return wire.AppendUint32(out, p.TTL)
}

// HalfBlockPairPayload carries a proposal and its agreement together.
type HalfBlockPairPayload struct {
	Block1 *block.Block
	Block2 *block.Block
}

func (p *HalfBlockPairPayload) ID() ID { return HalfBlockPair }

func (p *HalfBlockPairPayload) Encode() []byte {
	out := make([]byte, 0, p.Block1.EncodedSize()+p.Block2.EncodedSize())
	out = p.Block1.AppendEncode(out)
	return p.Block2.AppendEncode(out)
}

// HalfBlockPairBroadcastPayload is a block pair with a hop budget.
type HalfBlockPairBroadcastPayload struct {
	Block1 *block.Block
	Block2 *block.Block
	TTL    uint32
}

func (p *HalfBlockPairBroadcastPayload) ID() ID { return HalfBlockPairBroadcast }

func (p *HalfBlockPairBroadcastPayload) Encode() []byte {
	out := make([]byte, 0, p.Block1.EncodedSize()+p.Block2.EncodedSize()+4)
	out = p.Block1.AppendEncode(out)
	out = p.Block2.AppendEncode(out)
	return wire.AppendUint32(out, p.TTL)
}

// DecodeHalfBlock parses a HALF_BLOCK payload.
func DecodeHalfBlock(data []byte) (*HalfBlockPayload, error) {
	b, err := block.Decode(data)
	if err != nil {
		return nil, err
	}
	return &HalfBlockPayload{Block: b}, nil
}

// DecodeHalfBlockBroadcast parses a HALF_BLOCK_BROADCAST payload.
func DecodeHalfBlockBroadcast(data []byte) (*HalfBlockBroadcastPayload, error) {
	r := wire.NewReader(data)
	p := &HalfBlockBroadcastPayload{Block: block.ReadFrom(r)}
	p.TTL = r.Uint32("ttl")
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", HalfBlockBroadcast, err)
	}
	return p, nil
}

// DecodeHalfBlockPair parses a HALF_BLOCK_PAIR payload.
func DecodeHalfBlockPair(data []byte) (*HalfBlockPairPayload, error) {
	r := wire.NewReader(data)
	p := &HalfBlockPairPayload{Block1: block.ReadFrom(r), Block2: block.ReadFrom(r)}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", HalfBlockPair, err)
	}
	return p, nil
}

// DecodeHalfBlockPairBroadcast parses a HALF_BLOCK_PAIR_BROADCAST payload.
func DecodeHalfBlockPairBroadcast(data []byte) (*HalfBlockPairBroadcastPayload, error) {
	r := wire.NewReader(data)
	p := &HalfBlockPairBroadcastPayload{Block1: block.ReadFrom(r), Block2: block.ReadFrom(r)}
	p.TTL = r.Uint32("ttl")
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", HalfBlockPairBroadcast, err)
	}
	return p, nil
}
