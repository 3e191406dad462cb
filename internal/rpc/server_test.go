package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/Klingon-tech/xchain/config"
	"github.com/Klingon-tech/xchain/internal/chain"
	"github.com/Klingon-tech/xchain/internal/community"
	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/internal/registry"
	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/Klingon-tech/xchain/pkg/block"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

// testEnv holds all components for an RPC test.
type testEnv struct {
	server *Server
	chain  *chain.Chain
	url    string
}

func newTestChain(t *testing.T) *chain.Chain {
	t.Helper()
	key, err := crypto.GenerateNaClKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ch, err := chain.New(storage.NewMemory(), key)
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}
	return ch
}

func setupTestEnv(t *testing.T, rpcCfg ...config.RPCConfig) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	ch := newTestChain(t)
	srv := New("127.0.0.1:0", "xchain-test", ch, rpcCfg...)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server: srv,
		chain:  ch,
		url:    fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

// decodeResult re-decodes a generic result into out.
func decodeResult(t *testing.T, resp Response, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	data, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func expectError(t *testing.T, resp Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Errorf("error code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

// seedBlocks appends n proposals to env's local chain.
func seedBlocks(t *testing.T, ch *chain.Chain, n int) []*block.Block {
	t.Helper()
	out := make([]*block.Block, n)
	for i := range out {
		b, err := ch.CreateProposal(context.Background(), "test", block.Transaction{"i": i}, types.PublicKey{})
		if err != nil {
			t.Fatalf("CreateProposal() error: %v", err)
		}
		out[i] = b
	}
	return out
}

// ── Chain ───────────────────────────────────────────────────────────────

func TestRPC_ChainGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	var empty ChainInfoResult
	decodeResult(t, rpcCall(t, env.url, "chain_getInfo", nil), &empty)
	if empty.Network != "xchain-test" || empty.LatestSeq != 0 || empty.LatestHash != nil {
		t.Errorf("empty chain info = %+v", empty)
	}
	if empty.PublicKey != env.chain.PublicKey() || empty.Scheme != "ed25519" {
		t.Errorf("identity = %s (%s)", empty.PublicKey.Short(), empty.Scheme)
	}

	blocks := seedBlocks(t, env.chain, 3)
	var info ChainInfoResult
	decodeResult(t, rpcCall(t, env.url, "chain_getInfo", nil), &info)
	if info.LatestSeq != 3 || info.BlockCount != 3 || info.KnownChains != 1 {
		t.Errorf("chain info = %+v", info)
	}
	if info.LatestHash == nil || *info.LatestHash != blocks[2].Hash() {
		t.Errorf("latest hash = %v", info.LatestHash)
	}
}

func TestRPC_ChainGetBlock(t *testing.T) {
	env := setupTestEnv(t)
	blocks := seedBlocks(t, env.chain, 2)

	var bySeq block.Block
	decodeResult(t, rpcCall(t, env.url, "chain_getBlock", BlockParam{
		PublicKey: env.chain.PublicKey().String(),
		Seq:       2,
	}), &bySeq)
	if !bySeq.Equal(blocks[1]) {
		t.Errorf("chain_getBlock(seq 2) = %s", bySeq.ID())
	}

	var byHash block.Block
	decodeResult(t, rpcCall(t, env.url, "chain_getBlock", BlockParam{Hash: blocks[0].Hash().String()}), &byHash)
	if !byHash.Equal(blocks[0]) {
		t.Errorf("chain_getBlock(hash) = %s", byHash.ID())
	}
}

func TestRPC_ChainGetBlock_Errors(t *testing.T) {
	env := setupTestEnv(t)
	pk := env.chain.PublicKey().String()

	tests := []struct {
		name   string
		params interface{}
		code   int
	}{
		{"no params", nil, CodeInvalidParams},
		{"empty selector", BlockParam{}, CodeInvalidParams},
		{"bad hash", BlockParam{Hash: "zz"}, CodeInvalidParams},
		{"bad key", BlockParam{PublicKey: "abcd", Seq: 1}, CodeInvalidParams},
		{"seq zero", BlockParam{PublicKey: pk}, CodeInvalidParams},
		{"unknown seq", BlockParam{PublicKey: pk, Seq: 9}, CodeNotFound},
		{"unknown hash", BlockParam{Hash: types.Hash{}.String()}, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, rpcCall(t, env.url, "chain_getBlock", tt.params), tt.code)
		})
	}
}

func TestRPC_ChainGetLatest(t *testing.T) {
	env := setupTestEnv(t)

	expectError(t, rpcCall(t, env.url, "chain_getLatest", nil), CodeNotFound)

	blocks := seedBlocks(t, env.chain, 2)
	var latest block.Block
	decodeResult(t, rpcCall(t, env.url, "chain_getLatest", nil), &latest)
	if !latest.Equal(blocks[1]) {
		t.Errorf("chain_getLatest() = %s", latest.ID())
	}

	other := newTestChain(t)
	expectError(t, rpcCall(t, env.url, "chain_getLatest", ChainParam{PublicKey: other.PublicKey().String()}), CodeNotFound)
}

func TestRPC_ChainGetBlocks(t *testing.T) {
	env := setupTestEnv(t)
	seedBlocks(t, env.chain, 5)

	var all BlockListResult
	decodeResult(t, rpcCall(t, env.url, "chain_getBlocks", nil), &all)
	if all.Count != 5 || len(all.Blocks) != 5 || all.Blocks[0].Seq != 1 {
		t.Fatalf("chain_getBlocks() count = %d", all.Count)
	}

	var window BlockListResult
	decodeResult(t, rpcCall(t, env.url, "chain_getBlocks", RangeParam{Start: 2, End: 4}), &window)
	if window.Count != 3 || window.Blocks[0].Seq != 2 || window.Blocks[2].Seq != 4 {
		t.Errorf("range 2..4 = %d blocks", window.Count)
	}

	var limited BlockListResult
	decodeResult(t, rpcCall(t, env.url, "chain_getBlocks", RangeParam{Start: 1, Limit: 2}), &limited)
	if limited.Count != 2 {
		t.Errorf("limit 2 returned %d blocks", limited.Count)
	}

	var none BlockListResult
	decodeResult(t, rpcCall(t, env.url, "chain_getBlocks", RangeParam{Start: 10}), &none)
	if none.Count != 0 || none.Blocks == nil {
		t.Errorf("past the head = %+v", none)
	}

	expectError(t, rpcCall(t, env.url, "chain_getBlocks", RangeParam{Start: 4, End: 2}), CodeInvalidParams)
}

func TestRPC_ChainGetLinked(t *testing.T) {
	env := setupTestEnv(t)
	bob := newTestChain(t)
	ctx := context.Background()

	proposal, err := bob.CreateProposal(ctx, community.AckBlockType, block.Transaction{"q": 1}, env.chain.PublicKey())
	if err != nil {
		t.Fatalf("CreateProposal() error: %v", err)
	}
	if _, err := env.chain.ProcessBlock(proposal); err != nil {
		t.Fatalf("ProcessBlock() error: %v", err)
	}

	param := BlockParam{PublicKey: bob.PublicKey().String(), Seq: proposal.Seq}
	expectError(t, rpcCall(t, env.url, "chain_getLinked", param), CodeNotFound)

	community.RegisterAck(env.chain.Signers)
	agreement, err := env.chain.AnswerProposal(ctx, proposal)
	if err != nil {
		t.Fatalf("AnswerProposal() error: %v", err)
	}

	var linked block.Block
	decodeResult(t, rpcCall(t, env.url, "chain_getLinked", param), &linked)
	if !linked.Equal(agreement) {
		t.Errorf("chain_getLinked() = %s, want %s", linked.ID(), agreement.ID())
	}
}

func TestRPC_ChainValidate(t *testing.T) {
	env := setupTestEnv(t)
	remote := newTestChain(t)
	b := seedBlocks(t, remote, 1)[0]

	var ok ValidateResult
	decodeResult(t, rpcCall(t, env.url, "chain_validate", ValidateParam{Block: b}), &ok)
	if !ok.Valid || len(ok.Errors) != 0 {
		t.Errorf("valid block reported %+v", ok)
	}

	tampered := *b
	tampered.Type = "other"
	var bad ValidateResult
	decodeResult(t, rpcCall(t, env.url, "chain_validate", ValidateParam{Block: &tampered}), &bad)
	if bad.Valid || len(bad.Errors) == 0 || bad.Level != block.Invalid.String() {
		t.Errorf("tampered block reported %+v", bad)
	}

	expectError(t, rpcCall(t, env.url, "chain_validate", map[string]any{}), CodeInvalidParams)
}

func TestRPC_ChainPropose_Local(t *testing.T) {
	env := setupTestEnv(t)

	var b block.Block
	decodeResult(t, rpcCall(t, env.url, "chain_propose", ProposeParam{
		Type:        "note",
		Transaction: block.Transaction{"text": "hello"},
	}), &b)
	if b.Seq != 1 || b.Type != "note" || b.LinkPublicKey != types.AnyCounterparty {
		t.Errorf("proposal = %s", &b)
	}
	tx, _ := b.Transaction()
	if tx["text"] != "hello" {
		t.Errorf("transaction = %v", tx)
	}
	if latest, _ := env.chain.Latest(); latest == nil || !latest.Equal(&b) {
		t.Error("proposal should be stored on the local chain")
	}

	expectError(t, rpcCall(t, env.url, "chain_propose", ProposeParam{}), CodeInvalidParams)
	expectError(t, rpcCall(t, env.url, "chain_propose", ProposeParam{Type: "x", Counterparty: "nothex"}), CodeInvalidParams)
}

func TestRPC_ChainPropose_Rejected(t *testing.T) {
	env := setupTestEnv(t)
	env.chain.Validators.Register("guarded", registry.ValidatorFunc(func(*block.Block, block.Transaction) error {
		return errors.New("never")
	}))
	expectError(t, rpcCall(t, env.url, "chain_propose", ProposeParam{Type: "guarded"}), CodeRejected)

	// Raw '<' fits the request limit but re-encodes as \u003c, six bytes each,
	// past the block field limit.
	blob := strings.Repeat("<", maxBodySize-256)
	body := `{"jsonrpc":"2.0","method":"chain_propose","params":{"type":"note","transaction":{"blob":"` + blob + `"}},"id":1}`
	resp, err := http.Post(env.url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	expectError(t, rpcResp, CodeRejected)

	if latest, _ := env.chain.Latest(); latest != nil {
		t.Error("rejected proposals should not be stored")
	}
}

// recordingNet is a community transport that records broadcasts.
type recordingNet struct {
	mu    sync.Mutex
	peers []peer.ID
	sent  map[peer.ID]int
}

func (n *recordingNet) SendTo(_ context.Context, to peer.ID, _ []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[to]++
	return nil
}

func (n *recordingNet) RandomPeers(count int) []peer.ID {
	return n.peers[:min(count, len(n.peers))]
}

func (n *recordingNet) Penalize(peer.ID, int, string) {}

func (n *recordingNet) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.sent {
		total += c
	}
	return total
}

func TestRPC_ChainPropose_Disseminates(t *testing.T) {
	env := setupTestEnv(t)
	net := &recordingNet{peers: []peer.ID{"peer-a", "peer-b"}, sent: make(map[peer.ID]int)}
	cfg := community.DefaultConfig()
	cfg.AnnounceInterval = 0
	svc, err := community.New(cfg, env.chain, net)
	if err != nil {
		t.Fatalf("community.New() error: %v", err)
	}
	env.server.SetCommunity(svc)

	var b block.Block
	decodeResult(t, rpcCall(t, env.url, "chain_propose", ProposeParam{Type: "note"}), &b)

	// Sends run asynchronously; Stop waits for them.
	svc.Stop()
	if got := net.total(); got != 2 {
		t.Errorf("proposal sent %d times, want 2", got)
	}
}

func TestRPC_ChainCrawl_Disabled(t *testing.T) {
	env := setupTestEnv(t)
	expectError(t, rpcCall(t, env.url, "chain_crawl", CrawlParam{}), CodeUnavailable)
}

// ── Network ─────────────────────────────────────────────────────────────

func TestRPC_NetWithoutP2P(t *testing.T) {
	env := setupTestEnv(t)

	var node NodeInfoResult
	decodeResult(t, rpcCall(t, env.url, "net_getNodeInfo", nil), &node)
	if node.ID != "" || len(node.Addrs) != 0 {
		t.Errorf("node info = %+v", node)
	}

	var peers PeerInfoResult
	decodeResult(t, rpcCall(t, env.url, "net_getPeerInfo", nil), &peers)
	if peers.Count != 0 || peers.Peers == nil {
		t.Errorf("peer info = %+v", peers)
	}

	var bans BanListResult
	decodeResult(t, rpcCall(t, env.url, "net_getBanList", nil), &bans)
	if bans.Count != 0 {
		t.Errorf("ban list = %+v", bans)
	}
}

// ── Transport ───────────────────────────────────────────────────────────

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)
	expectError(t, rpcCall(t, env.url, "wallet_send", nil), CodeMethodNotFound)
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	expectError(t, rpcResp, CodeParseError)
}

func TestRPC_WrongVersion(t *testing.T) {
	env := setupTestEnv(t)

	body := []byte(`{"jsonrpc":"1.0","method":"chain_getInfo","id":1}`)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	expectError(t, rpcResp, CodeInvalidRequest)
}

func TestRPC_GetMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	expectError(t, rpcResp, CodeInvalidRequest)
}

func TestRPC_BodySizeLimit(t *testing.T) {
	env := setupTestEnv(t)

	bigPayload := bytes.Repeat([]byte{'A'}, maxBodySize+1024)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(bigPayload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	expectError(t, rpcResp, CodeInvalidRequest)
}

func TestRPC_IPFilter(t *testing.T) {
	allowed := setupTestEnv(t, config.RPCConfig{AllowedIPs: []string{"127.0.0.1"}})
	if resp := rpcCall(t, allowed.url, "chain_getInfo", nil); resp.Error != nil {
		t.Errorf("expected success for 127.0.0.1, got error: %s", resp.Error.Message)
	}

	blocked := setupTestEnv(t, config.RPCConfig{AllowedIPs: []string{"10.0.0.0/8"}})
	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "chain_getInfo", ID: 1})
	resp, err := http.Post(blocked.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestRPC_CORS(t *testing.T) {
	env := setupTestEnv(t, config.RPCConfig{CORSOrigins: []string{"http://myapp.com"}})
	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "chain_getInfo", ID: 1})

	tests := []struct {
		origin string
		want   string
	}{
		{"http://myapp.com", "http://myapp.com"},
		{"http://evil.com", ""},
	}
	for _, tt := range tests {
		httpReq, _ := http.NewRequest("POST", env.url, bytes.NewReader(body))
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Origin", tt.origin)

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: CORS header = %q, want %q", tt.origin, got, tt.want)
		}
	}

	preflight, _ := http.NewRequest("OPTIONS", env.url, nil)
	preflight.Header.Set("Origin", "http://myapp.com")
	resp, err := http.DefaultClient.Do(preflight)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
}
