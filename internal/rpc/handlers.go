package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/xchain/internal/registry"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

// maxRangeBlocks caps chain_getBlocks responses.
const maxRangeBlocks = 500

// parseOptionalParams is parseParams for methods whose params may be omitted.
func parseOptionalParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return nil
	}
	return parseParams(req, target)
}

// ── Chain ───────────────────────────────────────────────────────────────

func (s *Server) handleChainGetInfo(_ *Request) (interface{}, *Error) {
	store := s.chain.Store()
	pk := s.chain.PublicKey()
	res := &ChainInfoResult{
		Network:   s.network,
		PublicKey: pk,
		Scheme:    crypto.Scheme(pk),
	}

	latest, err := s.chain.Latest()
	if err != nil {
		return nil, internalError("latest block", err)
	}
	if latest != nil {
		h := latest.Hash()
		res.LatestSeq = latest.Seq
		res.LatestHash = &h
	}
	if res.BlockCount, err = store.Count(); err != nil {
		return nil, internalError("block count", err)
	}
	keys, err := store.KnownKeys()
	if err != nil {
		return nil, internalError("known chains", err)
	}
	res.KnownChains = len(keys)
	return res, nil
}

func (s *Server) handleChainGetBlock(req *Request) (interface{}, *Error) {
	var p BlockParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	b, rpcErr := s.lookupBlock(p)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return b, nil
}

func (s *Server) handleChainGetLatest(req *Request) (interface{}, *Error) {
	var p ChainParam
	if err := parseOptionalParams(req, &p); err != nil {
		return nil, err
	}
	pk, rpcErr := s.chainKey(p.PublicKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	b, err := s.chain.Store().GetLatest(pk)
	if err != nil {
		return nil, internalError("latest block", err)
	}
	if b == nil {
		return nil, &Error{Code: CodeNotFound, Message: "chain has no blocks"}
	}
	return b, nil
}

func (s *Server) handleChainGetBlocks(req *Request) (interface{}, *Error) {
	var p RangeParam
	if err := parseOptionalParams(req, &p); err != nil {
		return nil, err
	}
	pk, rpcErr := s.chainKey(p.PublicKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	start, end := max(p.Start, 1), p.End
	if end == 0 {
		end = math.MaxUint32
	}
	if end < start {
		return nil, &Error{Code: CodeInvalidParams, Message: "end must not be below start"}
	}
	limit := p.Limit
	if limit <= 0 || limit > maxRangeBlocks {
		limit = maxRangeBlocks
	}

	blocks, err := s.chain.Store().GetRange(pk, start, end, limit)
	if err != nil {
		return nil, internalError("block range", err)
	}
	if blocks == nil {
		blocks = []*block.Block{}
	}
	return &BlockListResult{Count: len(blocks), Blocks: blocks}, nil
}

func (s *Server) handleChainGetLinked(req *Request) (interface{}, *Error) {
	var p BlockParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	b, rpcErr := s.lookupBlock(p)
	if rpcErr != nil {
		return nil, rpcErr
	}
	linked, err := s.chain.Store().GetLinked(b)
	if err != nil {
		return nil, internalError("linked block", err)
	}
	if linked == nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no linked block for %s", b.ID())}
	}
	return linked, nil
}

func (s *Server) handleChainValidate(req *Request) (interface{}, *Error) {
	var p ValidateParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if p.Block == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "block is required"}
	}

	res, err := block.Validate(p.Block, s.chain.Store())
	if err != nil {
		return nil, internalError("validate", err)
	}
	out := &ValidateResult{Valid: !res.IsInvalid(), Level: res.Level.String()}
	for _, k := range res.Errors {
		out.Errors = append(out.Errors, k.String())
	}
	return out, nil
}

func (s *Server) handleChainPropose(ctx context.Context, req *Request) (interface{}, *Error) {
	var p ProposeParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if p.Type == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "type is required"}
	}
	var counterparty types.PublicKey
	if p.Counterparty != "" {
		pk, rpcErr := decodePublicKey(p.Counterparty)
		if rpcErr != nil {
			return nil, rpcErr
		}
		counterparty = pk
	}

	var (
		b   *block.Block
		err error
	)
	if s.community != nil {
		b, err = s.community.Propose(ctx, p.Type, p.Transaction, counterparty)
	} else {
		b, err = s.chain.CreateProposal(ctx, p.Type, p.Transaction, counterparty)
	}
	if err != nil {
		return nil, proposalError(err)
	}
	s.logger.Info().Str("block_id", b.ID()).Str("type", b.Type).Msg("Proposal created via RPC")
	return b, nil
}

func (s *Server) handleChainCrawl(ctx context.Context, req *Request) (interface{}, *Error) {
	if s.community == nil {
		return nil, &Error{Code: CodeUnavailable, Message: "p2p is disabled"}
	}
	var p CrawlParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	id, err := peer.Decode(p.PeerID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid peer_id: %v", err)}
	}
	pk, rpcErr := decodePublicKey(p.PublicKey)
	if rpcErr != nil {
		return nil, rpcErr
	}

	blocks, err := s.community.CrawlChain(ctx, id, pk, p.Start, p.End)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &Error{Code: CodeUnavailable, Message: "crawl timed out"}
		}
		return nil, internalError("crawl", err)
	}
	if blocks == nil {
		blocks = []*block.Block{}
	}
	return &BlockListResult{Count: len(blocks), Blocks: blocks}, nil
}

// lookupBlock resolves a BlockParam, preferring the hash when both are set.
func (s *Server) lookupBlock(p BlockParam) (*block.Block, *Error) {
	store := s.chain.Store()
	var (
		b   *block.Block
		err error
	)
	switch {
	case p.Hash != "":
		h, herr := types.HexToHash(p.Hash)
		if herr != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid hash: %v", herr)}
		}
		b, err = store.GetByHash(h)
	case p.PublicKey != "":
		pk, rpcErr := decodePublicKey(p.PublicKey)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if p.Seq == 0 {
			return nil, &Error{Code: CodeInvalidParams, Message: "sequence_number must be at least 1"}
		}
		b, err = store.Get(pk, p.Seq)
	default:
		return nil, &Error{Code: CodeInvalidParams, Message: "hash or public_key and sequence_number required"}
	}
	if err != nil {
		return nil, internalError("block lookup", err)
	}
	if b == nil {
		return nil, &Error{Code: CodeNotFound, Message: "block not found"}
	}
	return b, nil
}

// chainKey decodes an optional public key, defaulting to the local chain.
func (s *Server) chainKey(hexKey string) (types.PublicKey, *Error) {
	if hexKey == "" {
		return s.chain.PublicKey(), nil
	}
	return decodePublicKey(hexKey)
}

func decodePublicKey(s string) (types.PublicKey, *Error) {
	pk, err := types.HexToPublicKey(s)
	if err != nil {
		return types.PublicKey{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid public key: %v", err)}
	}
	return pk, nil
}

// proposalError reports a proposal the builder or a validator refused as
// rejected, and anything else as an internal failure.
func proposalError(err error) *Error {
	switch {
	case errors.Is(err, block.ErrMissingType),
		errors.Is(err, block.ErrFieldTooLarge),
		errors.Is(err, block.ErrBadTransaction),
		errors.Is(err, registry.ErrRejected):
		return &Error{Code: CodeRejected, Message: err.Error()}
	}
	return internalError("create proposal", err)
}

func internalError(what string, err error) *Error {
	return &Error{Code: CodeInternalError, Message: fmt.Sprintf("%s: %v", what, err)}
}

// ── Network ─────────────────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &PeerInfoResult{Count: 0, Peers: []PeerInfo{}}, nil
	}

	peers := s.p2pNode.PeerList()
	infos := make([]PeerInfo, len(peers))
	for i, p := range peers {
		infos[i] = PeerInfo{
			ID:          p.ID.String(),
			ConnectedAt: p.ConnectedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Source:      p.Source,
			LatestSeq:   p.LatestSeq,
		}
		if p.PublicKey != (types.PublicKey{}) {
			infos[i].PublicKey = p.PublicKey.String()
		}
	}

	return &PeerInfoResult{
		Count: len(infos),
		Peers: infos,
	}, nil
}

func (s *Server) handleNetGetNodeInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &NodeInfoResult{ID: "", Addrs: []string{}}, nil
	}

	return &NodeInfoResult{
		ID:    s.p2pNode.ID().String(),
		Addrs: s.p2pNode.Addrs(),
	}, nil
}

func (s *Server) handleNetGetBanList(_ *Request) (interface{}, *Error) {
	if s.banManager == nil {
		return &BanListResult{Count: 0, Bans: []BanEntry{}}, nil
	}

	records := s.banManager.BanList()
	entries := make([]BanEntry, len(records))
	for i, r := range records {
		entries[i] = BanEntry{
			ID:        r.ID,
			Reason:    r.Reason,
			Score:     r.Score,
			BannedAt:  r.BannedAt,
			ExpiresAt: r.ExpiresAt,
		}
		if !r.Chain.IsEmpty() {
			entries[i].Chain = r.Chain.String()
		}
	}

	return &BanListResult{
		Count: len(entries),
		Bans:  entries,
	}, nil
}
