// xchain-cli is a command-line client for interacting with an xchaind node
// and managing local identities.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Klingon-tech/xchain/config"
	"github.com/Klingon-tech/xchain/internal/rpc"
	"github.com/Klingon-tech/xchain/internal/rpcclient"
	"github.com/Klingon-tech/xchain/pkg/block"
	"golang.org/x/term"
)

// crawlTimeout bounds chain_crawl, which waits on a remote peer.
const crawlTimeout = 45 * time.Second

// keystoreDir returns the keystore path matching xchaind's layout:
// <datadir>/<network>/keystore
func keystoreDir(dataDir, network string) string {
	return filepath.Join(dataDir, network, "keystore")
}

// defaultRPCURL returns the local endpoint of network's default RPC port.
func defaultRPCURL(network string) string {
	cfg := config.Default(config.NetworkType(network))
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.RPC.Port)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := ""
	dataDir := config.DefaultDataDir()
	network := string(config.Mainnet)

	// Scan for --rpc, --datadir and --network before the subcommand.
	args := os.Args[1:]
scan:
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		default:
			break scan
		}
	}

	if network != string(config.Mainnet) && network != string(config.Testnet) {
		fatal("unknown network %q", network)
	}
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	if rpcURL == "" {
		rpcURL = defaultRPCURL(network)
	}

	ksDir := keystoreDir(dataDir, network)
	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "block":
		cmdBlock(client, cmdArgs)
	case "latest":
		cmdLatest(client, cmdArgs)
	case "blocks":
		cmdBlocks(client, cmdArgs)
	case "linked":
		cmdLinked(client, cmdArgs)
	case "validate":
		cmdValidate(client, cmdArgs)
	case "propose":
		cmdPropose(client, cmdArgs)
	case "crawl":
		cmdCrawl(rpcURL, cmdArgs)
	case "peers":
		cmdPeers(client)
	case "bans":
		cmdBans(client)
	case "identity":
		cmdIdentity(cmdArgs, ksDir)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: xchain-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: local node of --network)
  --datadir <path>    Data directory (default: ~/.xchain)
  --network <net>     mainnet (default) or testnet

Commands:
  status                          Show local chain status
  block <hash>                    Show a block by hash
  block <seq> [--key <pk>]        Show a block by sequence number
  latest [--key <pk>]             Show the latest block of a chain
  blocks [--key <pk>] [--start n] [--end n] [--limit n]
                                  List a range of blocks
  linked <hash>                   Show the block linked to a block
  validate <file.json>            Validate a block against the node's store
  propose --type <t> [--tx <json>] [--to <pk>]
                                  Create a proposal on the node's chain
  crawl --peer <id> --key <pk> [--start n] [--end n]
                                  Fetch a range of a chain from a peer
  peers                           Show connected peers
  bans                            Show banned peers

  identity new --name <n> [--scheme ed25519|secp256k1] [--account n]
                                  Create an identity from a new mnemonic
  identity import --name <n> --mnemonic "..." [--scheme s] [--account n]
                                  Restore an identity from a mnemonic
  identity list                   List identities in the keystore
  identity show --name <n>        Show an identity's public key

The node signs with the identity named "identity" unless configured otherwise.
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	var info rpc.ChainInfoResult
	if err := client.Call("chain_getInfo", nil, &info); err != nil {
		fatal("chain_getInfo: %v", err)
	}

	fmt.Printf("Network:     %s\n", info.Network)
	fmt.Printf("Identity:    %s (%s)\n", info.PublicKey, info.Scheme)
	fmt.Printf("Latest seq:  %d\n", info.LatestSeq)
	if info.LatestHash != nil {
		fmt.Printf("Latest hash: %s\n", info.LatestHash)
	}
	fmt.Printf("Blocks:      %d (%d chains)\n", info.BlockCount, info.KnownChains)

	var peers rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &peers); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}
	fmt.Printf("Peers:       %d\n", peers.Count)
}

// ── blocks ──────────────────────────────────────────────────────────────

// parseBlockRef turns "<hash>" or "<seq>" plus an optional chain key into
// a block selector.
func parseBlockRef(ref, key string) (rpc.BlockParam, error) {
	if seq, err := strconv.ParseUint(ref, 10, 32); err == nil {
		if seq == 0 {
			return rpc.BlockParam{}, fmt.Errorf("sequence numbers start at 1")
		}
		return rpc.BlockParam{PublicKey: key, Seq: uint32(seq)}, nil
	}
	if key != "" {
		return rpc.BlockParam{}, fmt.Errorf("--key applies to sequence numbers only")
	}
	return rpc.BlockParam{Hash: ref}, nil
}

func cmdBlock(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("block", flag.ExitOnError)
	key := fs.String("key", "", "Chain public key (default: the node's own chain)")
	ref, rest := splitPositional(args)
	fs.Parse(rest)
	if ref == "" {
		fatal("Usage: xchain-cli block <hash|seq> [--key <pk>]")
	}

	param, err := parseBlockRef(ref, *key)
	if err != nil {
		fatal("%v", err)
	}
	if param.Seq != 0 && param.PublicKey == "" {
		param.PublicKey = localKey(client)
	}

	var b block.Block
	if err := client.Call("chain_getBlock", param, &b); err != nil {
		fatal("chain_getBlock: %v", err)
	}
	printBlock(&b)
}

func cmdLatest(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("latest", flag.ExitOnError)
	key := fs.String("key", "", "Chain public key (default: the node's own chain)")
	fs.Parse(args)

	var b block.Block
	if err := client.Call("chain_getLatest", rpc.ChainParam{PublicKey: *key}, &b); err != nil {
		if rpcclient.IsNotFound(err) {
			fmt.Println("Chain has no blocks.")
			return
		}
		fatal("chain_getLatest: %v", err)
	}
	printBlock(&b)
}

func cmdBlocks(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("blocks", flag.ExitOnError)
	key := fs.String("key", "", "Chain public key (default: the node's own chain)")
	start := fs.Uint("start", 1, "First sequence number")
	end := fs.Uint("end", 0, "Last sequence number (0 = latest)")
	limit := fs.Int("limit", 50, "Maximum blocks to list")
	fs.Parse(args)

	var res rpc.BlockListResult
	if err := client.Call("chain_getBlocks", rpc.RangeParam{
		PublicKey: *key,
		Start:     uint32(*start),
		End:       uint32(*end),
		Limit:     *limit,
	}, &res); err != nil {
		fatal("chain_getBlocks: %v", err)
	}
	printBlockList(res.Blocks)
}

func cmdLinked(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: xchain-cli linked <hash>")
	}
	var b block.Block
	if err := client.Call("chain_getLinked", rpc.BlockParam{Hash: args[0]}, &b); err != nil {
		if rpcclient.IsNotFound(err) {
			fmt.Println("No linked block known.")
			return
		}
		fatal("chain_getLinked: %v", err)
	}
	printBlock(&b)
}

func cmdValidate(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: xchain-cli validate <file.json>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fatal("read block file: %v", err)
	}
	var b block.Block
	if err := json.Unmarshal(data, &b); err != nil {
		fatal("decode block: %v", err)
	}

	var res rpc.ValidateResult
	if err := client.Call("chain_validate", rpc.ValidateParam{Block: &b}, &res); err != nil {
		fatal("chain_validate: %v", err)
	}
	fmt.Printf("Block:  %s\n", b.ID())
	fmt.Printf("Valid:  %t\n", res.Valid)
	fmt.Printf("Level:  %s\n", res.Level)
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

func cmdPropose(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("propose", flag.ExitOnError)
	blockType := fs.String("type", "", "Block type")
	txJSON := fs.String("tx", "", "Transaction as a JSON object")
	to := fs.String("to", "", "Counterparty public key (default: any peer)")
	fs.Parse(args)

	if *blockType == "" {
		fatal("Usage: xchain-cli propose --type <t> [--tx <json>] [--to <pk>]")
	}
	var tx block.Transaction
	if *txJSON != "" {
		if err := json.Unmarshal([]byte(*txJSON), &tx); err != nil {
			fatal("decode --tx: %v", err)
		}
	}

	var b block.Block
	if err := client.Call("chain_propose", rpc.ProposeParam{
		Type:         *blockType,
		Transaction:  tx,
		Counterparty: *to,
	}, &b); err != nil {
		fatal("chain_propose: %v", err)
	}
	fmt.Printf("Proposal created: %s\n", b.ID())
	fmt.Printf("Hash: %s\n", b.Hash())
}

func cmdCrawl(rpcURL string, args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	peerID := fs.String("peer", "", "Peer ID to crawl")
	key := fs.String("key", "", "Public key of the chain to fetch")
	start := fs.Int("start", 1, "First sequence number (negative counts back from the head)")
	end := fs.Int("end", -1, "Last sequence number (negative counts back from the head)")
	fs.Parse(args)

	if *peerID == "" || *key == "" {
		fatal("Usage: xchain-cli crawl --peer <id> --key <pk> [--start n] [--end n]")
	}

	client := rpcclient.NewWithTimeout(rpcURL, crawlTimeout+5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), crawlTimeout)
	defer cancel()

	var res rpc.BlockListResult
	if err := client.CallContext(ctx, "chain_crawl", rpc.CrawlParam{
		PeerID:    *peerID,
		PublicKey: *key,
		Start:     int32(*start),
		End:       int32(*end),
	}, &res); err != nil {
		fatal("chain_crawl: %v", err)
	}
	printBlockList(res.Blocks)
}

// ── network ─────────────────────────────────────────────────────────────

func cmdPeers(client *rpcclient.Client) {
	var node rpc.NodeInfoResult
	if err := client.Call("net_getNodeInfo", nil, &node); err != nil {
		fatal("net_getNodeInfo: %v", err)
	}

	fmt.Printf("Node ID: %s\n", node.ID)
	for _, a := range node.Addrs {
		fmt.Printf("  Listen: %s\n", a)
	}

	var peers rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &peers); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}

	fmt.Printf("Peers:   %d\n", peers.Count)
	for _, p := range peers.Peers {
		fmt.Printf("  %s (connected: %s, via %s)\n", p.ID, p.ConnectedAt, p.Source)
		if p.PublicKey != "" {
			fmt.Printf("    chain: %s seq %d\n", p.PublicKey, p.LatestSeq)
		}
	}
}

func cmdBans(client *rpcclient.Client) {
	var bans rpc.BanListResult
	if err := client.Call("net_getBanList", nil, &bans); err != nil {
		fatal("net_getBanList: %v", err)
	}
	fmt.Printf("Bans: %d\n", bans.Count)
	for _, b := range bans.Bans {
		expires := "never"
		if b.ExpiresAt > 0 {
			expires = time.Unix(b.ExpiresAt, 0).UTC().Format(time.RFC3339)
		}
		fmt.Printf("  %s score=%d expires=%s reason=%s\n", b.ID, b.Score, expires, b.Reason)
		if b.Chain != "" {
			fmt.Printf("    chain %s\n", b.Chain)
		}
	}
}

// ── output ──────────────────────────────────────────────────────────────

func printBlock(b *block.Block) {
	fmt.Printf("ID:          %s\n", b.ID())
	fmt.Printf("Hash:        %s\n", b.Hash())
	fmt.Printf("Type:        %s\n", b.Type)
	fmt.Printf("Previous:    %s\n", b.PrevHash)
	if b.IsProposal() {
		fmt.Printf("Proposal to: %s\n", b.LinkPublicKey)
	} else {
		fmt.Printf("Agrees with: %s\n", b.LinkedID())
	}
	ts := time.UnixMilli(int64(b.Timestamp)).UTC()
	fmt.Printf("Timestamp:   %s\n", ts.Format("2006-01-02 15:04:05.000 UTC"))

	tx, err := b.Transaction()
	if err != nil {
		fmt.Printf("Transaction: undecodable (%d bytes)\n", len(b.RawTx))
		return
	}
	out, _ := json.MarshalIndent(tx, "", "  ")
	fmt.Printf("Transaction: %s\n", out)
}

func printBlockList(blocks []*block.Block) {
	fmt.Printf("Blocks: %d\n", len(blocks))
	for _, b := range blocks {
		fmt.Printf("  %6d  %s  %-16s link=%s\n", b.Seq, b.Hash(), b.Type, b.LinkedID())
	}
}

// ── helpers ─────────────────────────────────────────────────────────────

// splitPositional separates a leading positional argument from flags.
func splitPositional(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", args
	}
	return args[0], args[1:]
}

func localKey(client *rpcclient.Client) string {
	var info rpc.ChainInfoResult
	if err := client.Call("chain_getInfo", nil, &info); err != nil {
		fatal("chain_getInfo: %v", err)
	}
	return info.PublicKey.String()
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
