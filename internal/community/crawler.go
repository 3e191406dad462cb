package community

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/internal/p2p"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/message"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"
)

// pendingCrawl collects the answer to one crawl request.
type pendingCrawl struct {
	peer   peer.ID
	total  uint32
	blocks map[uint32]*block.Block // by response index
	done   chan struct{}
	closed bool
}

func randomCrawlID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint32(b[:])
}

// CrawlChain asks p for the blocks of pk's chain with start <= seq <= end.
// Negative sequence numbers count back from the chain head (-1 is the head).
// Received blocks are run through the chain pipeline. It returns when the
// answer is complete, when p has nothing, or when ctx ends; the last case
// returns the blocks received so far with the context error.
func (s *Service) CrawlChain(ctx context.Context, p peer.ID, pk types.PublicKey, start, end int32) ([]*block.Block, error) {
	if _, ok := ctx.Deadline(); !ok && s.cfg.CrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CrawlTimeout)
		defer cancel()
	}

	id := s.crawlID.Add(1)
	pc := &pendingCrawl{peer: p, blocks: make(map[uint32]*block.Block), done: make(chan struct{})}
	s.crawlMu.Lock()
	s.crawls[id] = pc
	s.crawlMu.Unlock()
	defer func() {
		s.crawlMu.Lock()
		delete(s.crawls, id)
		s.crawlMu.Unlock()
	}()

	req := &message.CrawlRequestPayload{
		PublicKey: pk,
		StartSeq:  start,
		EndSeq:    end,
		Limit:     s.cfg.MaxCrawlBlocks,
		CrawlID:   id,
	}
	if err := s.net.SendTo(ctx, p, message.Frame(req)); err != nil {
		return nil, fmt.Errorf("send crawl request: %w", err)
	}

	var waitErr error
	select {
	case <-pc.done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	case <-s.ctx.Done():
		waitErr = s.ctx.Err()
	}

	s.crawlMu.Lock()
	indexes := make([]uint32, 0, len(pc.blocks))
	for i := range pc.blocks {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	out := make([]*block.Block, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, pc.blocks[i])
	}
	s.crawlMu.Unlock()

	klog.Community.Debug().
		Str("peer", p.String()).
		Str("chain", pk.Short()).
		Int("blocks", len(out)).
		Msg("Crawl finished")
	return out, waitErr
}

func (s *Service) onCrawlRequest(from peer.ID, payload []byte) {
	req, err := message.DecodeCrawlRequest(payload)
	if err != nil {
		s.malformed(from, message.CrawlRequest, err)
		return
	}
	if !s.limiterFor(from).Allow() {
		klog.Community.Debug().Str("peer", from.String()).Msg("Crawl request over rate limit")
		s.net.Penalize(from, p2p.PenaltyCrawlFlood, "crawl flood")
		return
	}

	blocks, err := s.crawlAnswer(req)
	if err != nil {
		klog.Community.Error().Err(err).Msg("Crawl answer failed")
		return
	}
	if len(blocks) == 0 {
		s.sendFrame(from, message.Frame(&message.EmptyCrawlResponsePayload{CrawlID: req.CrawlID}))
		return
	}
	total := uint32(len(blocks))
	for i, b := range blocks {
		s.sendFrame(from, message.Frame(&message.CrawlResponsePayload{
			Block:   b,
			CrawlID: req.CrawlID,
			Index:   uint32(i),
			Total:   total,
		}))
	}
}

// crawlAnswer returns the requested range followed by the other halves of
// its interactions.
func (s *Service) crawlAnswer(req *message.CrawlRequestPayload) ([]*block.Block, error) {
	store := s.chain.Store()
	latest, err := store.LatestSeq(req.PublicKey)
	if err != nil || latest == 0 {
		return nil, err
	}
	start := resolveSeq(req.StartSeq, latest)
	end := resolveSeq(req.EndSeq, latest)
	if start > end {
		return nil, nil
	}

	limit := req.Limit
	if limit == 0 || limit > s.cfg.MaxCrawlBlocks {
		limit = s.cfg.MaxCrawlBlocks
	}
	blocks, err := store.GetRange(req.PublicKey, start, end, int(limit))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		seen[b.ID()] = true
	}
	for _, b := range blocks {
		linked, err := store.GetLinked(b)
		if err != nil {
			return nil, err
		}
		if linked != nil && !seen[linked.ID()] {
			seen[linked.ID()] = true
			blocks = append(blocks, linked)
		}
	}
	return blocks, nil
}

// resolveSeq maps a crawl index onto a sequence number of a chain whose
// head is latest. Negative indexes count back from the head.
func resolveSeq(seq int32, latest uint32) uint32 {
	if seq >= 0 {
		return max(uint32(seq), block.GenesisSeq)
	}
	resolved := int64(latest) + int64(seq) + 1
	if resolved < int64(block.GenesisSeq) {
		return block.GenesisSeq
	}
	return uint32(resolved)
}

func (s *Service) limiterFor(id peer.ID) *rate.Limiter {
	if l, ok := s.limiters.Get(id); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(s.cfg.CrawlRate), s.cfg.CrawlBurst)
	s.limiters.Add(id, l)
	return l
}

func (s *Service) onCrawlResponse(from peer.ID, payload []byte) {
	resp, err := message.DecodeCrawlResponse(payload)
	if err != nil {
		s.malformed(from, message.CrawlResponse, err)
		return
	}
	if resp.Total == 0 || resp.Index >= resp.Total {
		s.malformed(from, message.CrawlResponse, errors.New("index out of range"))
		return
	}

	s.crawlMu.Lock()
	pc, ok := s.crawls[resp.CrawlID]
	s.crawlMu.Unlock()
	if !ok || pc.peer != from {
		klog.Community.Debug().Str("peer", from.String()).Uint32("crawl_id", resp.CrawlID).Msg("Unsolicited crawl response")
		return
	}

	s.admit(from, resp.Block)

	s.crawlMu.Lock()
	defer s.crawlMu.Unlock()
	if pc.closed {
		return
	}
	pc.total = resp.Total
	pc.blocks[resp.Index] = resp.Block
	if uint32(len(pc.blocks)) >= pc.total {
		pc.closed = true
		close(pc.done)
	}
}

func (s *Service) onEmptyCrawlResponse(from peer.ID, payload []byte) {
	resp, err := message.DecodeEmptyCrawlResponse(payload)
	if err != nil {
		s.malformed(from, message.EmptyCrawlResponse, err)
		return
	}
	s.crawlMu.Lock()
	defer s.crawlMu.Unlock()
	pc, ok := s.crawls[resp.CrawlID]
	if !ok || pc.peer != from || pc.closed {
		return
	}
	pc.closed = true
	close(pc.done)
}
