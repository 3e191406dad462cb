package message

import (
	"fmt"

	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/Klingon-tech/xchain/pkg/wire"
	"github.com/golang/snappy"
)

// CrawlRequestPayload asks a peer for a range of a chain. Negative sequence
// numbers count back from the chain head: -1 is the latest block.
type CrawlRequestPayload struct {
	PublicKey types.PublicKey
	StartSeq  int32
	EndSeq    int32
	Limit     uint32
	CrawlID   uint32
}

func (p *CrawlRequestPayload) ID() ID { return CrawlRequest }

func (p *CrawlRequestPayload) Encode() []byte {
	out := make([]byte, 0, types.PublicKeySize+16)
	out = append(out, p.PublicKey[:]...)
	out = wire.AppendInt32(out, p.StartSeq)
	out = wire.AppendInt32(out, p.EndSeq)
	out = wire.AppendUint32(out, p.Limit)
	return wire.AppendUint32(out, p.CrawlID)
}

// DecodeCrawlRequest parses a CRAWL_REQUEST payload.
func DecodeCrawlRequest(data []byte) (*CrawlRequestPayload, error) {
	r := wire.NewReader(data)
	p := &CrawlRequestPayload{}
	r.Fixed(p.PublicKey[:], "public key")
	p.StartSeq = r.Int32("start seq")
	p.EndSeq = r.Int32("end seq")
	p.Limit = r.Uint32("limit")
	p.CrawlID = r.Uint32("crawl id")
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", CrawlRequest, err)
	}
	return p, nil
}

// CrawlResponsePayload is one block of a crawl answer. The block payload is
// snappy-compressed.
type CrawlResponsePayload struct {
	Block   *block.Block
	CrawlID uint32
	Index   uint32
	Total   uint32
}

func (p *CrawlResponsePayload) ID() ID { return CrawlResponse }

func (p *CrawlResponsePayload) Encode() []byte {
	out := make([]byte, 0, 12+p.Block.EncodedSize())
	out = wire.AppendUint32(out, p.CrawlID)
	out = wire.AppendUint32(out, p.Index)
	out = wire.AppendUint32(out, p.Total)
	return wire.AppendVarlen(out, snappy.Encode(nil, p.Block.Encode()))
}

// DecodeCrawlResponse parses a CRAWL_RESPONSE payload.
func DecodeCrawlResponse(data []byte) (*CrawlResponsePayload, error) {
	r := wire.NewReader(data)
	p := &CrawlResponsePayload{}
	p.CrawlID = r.Uint32("crawl id")
	p.Index = r.Uint32("index")
	p.Total = r.Uint32("total")
	compressed := r.Varlen("block")
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", CrawlResponse, err)
	}
	if n, err := snappy.DecodedLen(compressed); err != nil || n > wire.MaxVarlen {
		return nil, fmt.Errorf("decode %s: bad block compression", CrawlResponse)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", CrawlResponse, err)
	}
	b, err := block.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", CrawlResponse, err)
	}
	p.Block = b
	return p, nil
}

// EmptyCrawlResponsePayload tells the requester there is nothing to send.
type EmptyCrawlResponsePayload struct {
	CrawlID uint32
}

func (p *EmptyCrawlResponsePayload) ID() ID         { return EmptyCrawlResponse }
func (p *EmptyCrawlResponsePayload) Encode() []byte { return wire.AppendUint32(nil, p.CrawlID) }

// DecodeEmptyCrawlResponse parses an EMPTY_CRAWL_RESPONSE payload.
func DecodeEmptyCrawlResponse(data []byte) (*EmptyCrawlResponsePayload, error) {
	r := wire.NewReader(data)
	p := &EmptyCrawlResponsePayload{CrawlID: r.Uint32("crawl id")}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", EmptyCrawlResponse, err)
	}
	return p, nil
}
