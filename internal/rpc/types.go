package rpc

import (
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeRejected       = -32001
	CodeUnavailable    = -32002
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// BlockParam selects a block by hash, or by chain key and sequence number.
type BlockParam struct {
	Hash      string `json:"hash,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
	Seq       uint32 `json:"sequence_number,omitempty"`
}

// ChainParam selects a chain; an empty key means the local chain.
type ChainParam struct {
	PublicKey string `json:"public_key,omitempty"`
}

// RangeParam is used by chain_getBlocks.
type RangeParam struct {
	PublicKey string `json:"public_key,omitempty"`
	Start     uint32 `json:"start"`
	End       uint32 `json:"end,omitempty"` // 0 = up to the head
	Limit     int    `json:"limit,omitempty"`
}

// ValidateParam is used by chain_validate.
type ValidateParam struct {
	Block *block.Block `json:"block"`
}

// ProposeParam is used by chain_propose.
type ProposeParam struct {
	Type         string            `json:"type"`
	Transaction  block.Transaction `json:"transaction,omitempty"`
	Counterparty string            `json:"counterparty,omitempty"` // empty = any peer
}

// CrawlParam is used by chain_crawl. Negative indexes count back from the
// head of the remote chain.
type CrawlParam struct {
	PeerID    string `json:"peer_id"`
	PublicKey string `json:"public_key"`
	Start     int32  `json:"start"`
	End       int32  `json:"end"`
}

// ── Result types ────────────────────────────────────────────────────────

// ChainInfoResult is returned by chain_getInfo.
type ChainInfoResult struct {
	Network     string          `json:"network"`
	PublicKey   types.PublicKey `json:"public_key"`
	Scheme      string          `json:"scheme"`
	LatestSeq   uint32          `json:"latest_sequence_number"`
	LatestHash  *types.Hash     `json:"latest_hash,omitempty"`
	BlockCount  uint64          `json:"block_count"`
	KnownChains int             `json:"known_chains"`
}

// BlockListResult is returned by chain_getBlocks and chain_crawl.
type BlockListResult struct {
	Count  int            `json:"count"`
	Blocks []*block.Block `json:"blocks"`
}

// ValidateResult is returned by chain_validate.
type ValidateResult struct {
	Valid  bool     `json:"valid"`
	Level  string   `json:"level"`
	Errors []string `json:"errors,omitempty"`
}

// PeerInfo describes one connected peer.
type PeerInfo struct {
	ID          string `json:"id"`
	ConnectedAt string `json:"connected_at"`
	Source      string `json:"source,omitempty"`
	PublicKey   string `json:"public_key,omitempty"`
	LatestSeq   uint32 `json:"latest_sequence_number,omitempty"`
}

// PeerInfoResult is returned by net_getPeerInfo.
type PeerInfoResult struct {
	Count int        `json:"count"`
	Peers []PeerInfo `json:"peers"`
}

// NodeInfoResult is returned by net_getNodeInfo.
type NodeInfoResult struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
}

// BanEntry describes one banned peer and the chain identity it proved.
type BanEntry struct {
	ID        string `json:"id"`
	Chain     string `json:"chain,omitempty"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// BanListResult is returned by net_getBanList.
type BanListResult struct {
	Count int        `json:"count"`
	Bans  []BanEntry `json:"bans"`
}
