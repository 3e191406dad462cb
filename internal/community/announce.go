package community

import (
	"math"
	"time"

	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/internal/p2p"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

// HandleHead reacts to a verified head announcement: when the announced
// chain is ahead of the local store, the missing range is crawled from the
// announcing peer.
func (s *Service) HandleHead(from peer.ID, a *p2p.HeadAnnouncement) {
	if a.PublicKey == s.chain.PublicKey() {
		return
	}
	have, err := s.chain.Store().LatestSeq(a.PublicKey)
	if err != nil {
		klog.Community.Error().Err(err).Msg("Head lookup failed")
		return
	}
	if a.Seq <= have {
		return
	}

	start, end, ok := headCrawlRange(have, a.Seq, s.cfg.MaxCrawlBlocks)
	if !ok {
		klog.Community.Debug().Str("chain", a.PublicKey.Short()).Uint32("seq", a.Seq).Msg("Announced head out of crawl range")
		return
	}
	if !s.beginHeadCrawl(a.PublicKey) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.endHeadCrawl(a.PublicKey)
		blocks, err := s.CrawlChain(s.ctx, from, a.PublicKey, start, end)
		if err != nil && len(blocks) == 0 {
			klog.Community.Debug().Err(err).Str("chain", a.PublicKey.Short()).Msg("Head crawl failed")
			return
		}
		klog.Community.Debug().
			Str("chain", a.PublicKey.Short()).
			Int32("from_seq", start).
			Int("blocks", len(blocks)).
			Msg("Crawled announced chain")
	}()
}

// headCrawlRange returns the positive crawl bounds for catching up from have
// to announced, at most span blocks. Crawl requests carry int32 sequence
// numbers, so a range starting past math.MaxInt32 cannot be asked for.
func headCrawlRange(have, announced, span uint32) (start, end int32, ok bool) {
	if announced <= have || have >= math.MaxInt32 || span == 0 {
		return 0, 0, false
	}
	first := have + 1
	last := announced
	if last-first >= span {
		last = first + span - 1
	}
	if last > math.MaxInt32 {
		last = math.MaxInt32
	}
	return int32(first), int32(last), true
}

// beginHeadCrawl claims pk for a head crawl. It reports false while another
// head crawl of pk is running.
func (s *Service) beginHeadCrawl(pk types.PublicKey) bool {
	s.crawlMu.Lock()
	defer s.crawlMu.Unlock()
	if _, busy := s.headCrawls[pk]; busy {
		return false
	}
	s.headCrawls[pk] = struct{}{}
	return true
}

func (s *Service) endHeadCrawl(pk types.PublicKey) {
	s.crawlMu.Lock()
	delete(s.headCrawls, pk)
	s.crawlMu.Unlock()
}

func (s *Service) runAnnounceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.AnnounceInterval)
	defer ticker.Stop()

	klog.Community.Info().Dur("interval", s.cfg.AnnounceInterval).Msg("Head announcements started")
	s.announceHead()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.announceHead()
		}
	}
}

// announceHead publishes the local chain head, if there is one.
func (s *Service) announceHead() {
	head, err := s.chain.Latest()
	if err != nil {
		klog.Community.Error().Err(err).Msg("Head lookup failed")
		return
	}
	if head == nil {
		return
	}
	a, err := p2p.NewHeadAnnouncement(s.chain.Key(), head, s.now())
	if err != nil {
		klog.Community.Error().Err(err).Msg("Failed to sign head announcement")
		return
	}
	if err := s.heads.BroadcastHead(a); err != nil {
		klog.Community.Debug().Err(err).Msg("Failed to broadcast head")
	}
}

