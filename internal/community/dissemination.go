package community

import (
	"context"
	"errors"

	"github.com/Klingon-tech/xchain/internal/chain"
	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/internal/p2p"
	"github.com/Klingon-tech/xchain/internal/registry"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/message"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

// SendBlock sends b to one peer, or with to == nil broadcasts it with a hop
// budget of ttl (0 means the configured default) to a random fanout of
// peers. Broadcast block ids enter the relay set; direct sends never do.
func (s *Service) SendBlock(b *block.Block, to *peer.ID, ttl uint32) {
	if to != nil {
		s.sendFrame(*to, message.Frame(&message.HalfBlockPayload{Block: b}))
		return
	}
	s.relayed.add(b.ID())
	s.fanout(message.Frame(&message.HalfBlockBroadcastPayload{Block: b, TTL: s.ttl(ttl)}), "")
}

// SendBlockPair sends a proposal together with its agreement, directly to
// one peer or as a broadcast. A broadcast records both block ids.
func (s *Service) SendBlockPair(proposal, agreement *block.Block, to *peer.ID, ttl uint32) {
	if to != nil {
		s.sendFrame(*to, message.Frame(&message.HalfBlockPairPayload{Block1: proposal, Block2: agreement}))
		return
	}
	s.relayed.add(proposal.ID(), agreement.ID())
	frame := message.Frame(&message.HalfBlockPairBroadcastPayload{
		Block1: proposal,
		Block2: agreement,
		TTL:    s.ttl(ttl),
	})
	s.fanout(frame, "")
}

// Propose creates a proposal on the local chain and sends it to the
// counterparty's peer when connected, otherwise broadcasts it.
func (s *Service) Propose(ctx context.Context, blockType string, tx block.Transaction, counterparty types.PublicKey) (*block.Block, error) {
	b, err := s.chain.CreateProposal(ctx, blockType, tx, counterparty)
	if err != nil {
		return nil, err
	}
	if s.peers != nil && counterparty != types.AnyCounterparty && counterparty != (types.PublicKey{}) {
		if id, ok := s.peers.PeerByChain(counterparty); ok {
			s.SendBlock(b, &id, 0)
			return b, nil
		}
	}
	s.SendBlock(b, nil, 0)
	return b, nil
}

func (s *Service) ttl(ttl uint32) uint32 {
	if ttl == 0 {
		return s.cfg.DefaultTTL
	}
	return ttl
}

// fanout sends frame to a random subset of peers, skipping exclude.
func (s *Service) fanout(frame []byte, exclude peer.ID) {
	sent := 0
	for _, id := range s.net.RandomPeers(s.cfg.Fanout + 1) {
		if id == exclude || sent == s.cfg.Fanout {
			continue
		}
		s.sendFrame(id, frame)
		sent++
	}
}

// sendFrame delivers frame in the background.
func (s *Service) sendFrame(to peer.ID, frame []byte) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SendTimeout)
		defer cancel()
		if err := s.net.SendTo(ctx, to, frame); err != nil {
			klog.Community.Debug().Err(err).Str("peer", to.String()).Msg("Send failed")
		}
	}()
}

func (s *Service) onHalfBlock(from peer.ID, payload []byte) {
	p, err := message.DecodeHalfBlock(payload)
	if err != nil {
		s.malformed(from, message.HalfBlock, err)
		return
	}
	s.receive(from, p.Block, false)
}

func (s *Service) onHalfBlockBroadcast(from peer.ID, payload []byte) {
	p, err := message.DecodeHalfBlockBroadcast(payload)
	if err != nil {
		s.malformed(from, message.HalfBlockBroadcast, err)
		return
	}
	if s.receive(from, p.Block, true) == chain.Rejected {
		return
	}
	if p.TTL > 1 && s.relayed.markNew(p.Block.ID()) {
		s.fanout(message.Frame(&message.HalfBlockBroadcastPayload{Block: p.Block, TTL: p.TTL - 1}), from)
	}
}

func (s *Service) onHalfBlockPair(from peer.ID, payload []byte) {
	p, err := message.DecodeHalfBlockPair(payload)
	if err != nil {
		s.malformed(from, message.HalfBlockPair, err)
		return
	}
	s.receivePair(from, p.Block1, p.Block2)
}

func (s *Service) onHalfBlockPairBroadcast(from peer.ID, payload []byte) {
	p, err := message.DecodeHalfBlockPairBroadcast(payload)
	if err != nil {
		s.malformed(from, message.HalfBlockPairBroadcast, err)
		return
	}
	if !s.receivePair(from, p.Block1, p.Block2) {
		return
	}
	if p.TTL > 1 && s.relayed.markNew(p.Block1.ID(), p.Block2.ID()) {
		frame := message.Frame(&message.HalfBlockPairBroadcastPayload{
			Block1: p.Block1,
			Block2: p.Block2,
			TTL:    p.TTL - 1,
		})
		s.fanout(frame, from)
	}
}

// receivePair admits both halves and reports whether neither was rejected.
func (s *Service) receivePair(from peer.ID, proposal, agreement *block.Block) bool {
	if s.admit(from, proposal) == chain.Rejected {
		return false
	}
	return s.admit(from, agreement) != chain.Rejected
}

// receive admits b and answers it when it asks this peer for a signature.
func (s *Service) receive(from peer.ID, b *block.Block, broadcast bool) chain.Outcome {
	outcome := s.admit(from, b)
	if outcome != chain.Rejected {
		s.answer(from, b, broadcast)
	}
	return outcome
}

// admit runs b through the chain pipeline. Invalid blocks cost the sender.
func (s *Service) admit(from peer.ID, b *block.Block) chain.Outcome {
	outcome, err := s.chain.ProcessBlock(b)
	switch {
	case err == nil:
	case errors.Is(err, chain.ErrInvalidBlock):
		klog.Community.Info().Err(err).Str("peer", from.String()).Msg("Dropped invalid block")
		s.net.Penalize(from, p2p.PenaltyInvalidBlock, "invalid block")
	case errors.Is(err, registry.ErrRejected):
		klog.Community.Debug().Err(err).Str("block_id", b.ID()).Msg("Transaction rejected")
	case errors.Is(err, chain.ErrConflict):
		klog.Community.Warn().Str("block_id", b.ID()).Str("peer", from.String()).Msg("Fork in received chain")
	default:
		klog.Community.Error().Err(err).Str("block_id", b.ID()).Msg("Block processing failed")
	}
	return outcome
}

// answer co-signs a proposal addressed to this peer and sends the pair back
// to the requester, and to the network when the proposal was broadcast.
func (s *Service) answer(from peer.ID, b *block.Block, broadcast bool) {
	ok, err := s.chain.IsSignatureRequest(b)
	if err != nil {
		klog.Community.Error().Err(err).Str("block_id", b.ID()).Msg("Signature request check failed")
		return
	}
	if !ok {
		return
	}

	agreement, err := s.chain.AnswerProposal(s.ctx, b)
	switch {
	case err == nil:
	case errors.Is(err, chain.ErrNoSigner), errors.Is(err, chain.ErrAnswered):
		klog.Community.Debug().Err(err).Str("block_id", b.ID()).Msg("Proposal not answered")
		return
	case errors.Is(err, chain.ErrDeclined):
		klog.Community.Info().Str("block_id", b.ID()).Msg("Proposal declined")
		return
	default:
		klog.Community.Error().Err(err).Str("block_id", b.ID()).Msg("Answering proposal failed")
		return
	}

	s.SendBlockPair(b, agreement, &from, 0)
	if broadcast {
		s.SendBlockPair(b, agreement, nil, 0)
	}
}
