// Package node provides a reusable xchain peer that can be embedded in any
// binary. It wires storage, the signing identity, the chain, block
// dissemination, P2P and RPC together.
package node

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Klingon-tech/xchain/config"
	"github.com/Klingon-tech/xchain/internal/chain"
	"github.com/Klingon-tech/xchain/internal/community"
	klog "github.com/Klingon-tech/xchain/internal/log"
	"github.com/Klingon-tech/xchain/internal/p2p"
	"github.com/Klingon-tech/xchain/internal/rpc"
	"github.com/Klingon-tech/xchain/internal/storage"
	"github.com/Klingon-tech/xchain/internal/wallet"
	"github.com/Klingon-tech/xchain/pkg/crypto"
	"github.com/Klingon-tech/xchain/pkg/types"
	"github.com/rs/zerolog"
)

// Key prefixes separating the subsystems sharing one database.
var (
	chainPrefix = []byte("chain/")
	p2pPrefix   = []byte("p2p/")
)

// Node is a fully-initialized xchain peer.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db  storage.DB
	key crypto.PrivateKey
	ch  *chain.Chain

	// Networking
	p2pNode   *p2p.Node
	community *community.Service

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, storage, identity, chain, P2P, RPC) but does NOT start the
// background loops. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Data dirs and logger ─────────────────────────────────────
	if err := config.EnsureDataDirs(cfg); err != nil {
		return nil, err
	}
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = filepath.Join(cfg.LogsDir(), "xchain.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("network_id", cfg.NetworkID()).
		Msg("Starting XChain node")

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.BlocksDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.BlocksDir(), err)
	}
	logger.Info().Str("path", cfg.BlocksDir()).Msg("Database opened")

	// ── 3. Identity ─────────────────────────────────────────────────
	password, err := readPassword(cfg.Identity.PasswordFile)
	if err != nil {
		db.Close()
		return nil, err
	}
	keyPath := expandHome(cfg.IdentityFile())
	key, created, err := wallet.LoadOrCreateKeyFile(keyPath, password)
	clear(password)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load identity %s: %w", keyPath, err)
	}
	logger.Info().
		Str("public_key", key.PublicKey().Short()).
		Str("scheme", crypto.Scheme(key.PublicKey())).
		Bool("created", created).
		Msg("Identity loaded")

	// ── 4. Chain ────────────────────────────────────────────────────
	ch, err := chain.New(storage.NewPrefixDB(db, chainPrefix), key)
	if err != nil {
		key.Zero()
		db.Close()
		return nil, fmt.Errorf("create chain: %w", err)
	}
	community.RegisterAck(ch.Signers)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:    cfg,
		logger: logger,
		db:     db,
		key:    key,
		ch:     ch,
		ctx:    ctx,
		cancel: cancel,
	}

	// ── 5. P2P and dissemination ────────────────────────────────────
	if cfg.P2P.Enabled {
		if err := n.setupP2P(); err != nil {
			n.close()
			return nil, err
		}
	} else {
		logger.Warn().Msg("P2P disabled by config; node will run offline")
	}

	// ── 6. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		n.rpcServer = rpc.New(rpcAddr, cfg.NetworkID(), ch, cfg.RPC)
		if n.community != nil {
			n.rpcServer.SetCommunity(n.community)
		}
		if n.p2pNode != nil {
			n.rpcServer.SetP2PNode(n.p2pNode)
			n.rpcServer.SetBanManager(n.p2pNode.BanManager)
		}
		if err := n.rpcServer.Start(); err != nil {
			n.rpcServer = nil
			n.close()
			return nil, fmt.Errorf("start RPC at %s: %w", rpcAddr, err)
		}
		logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	}

	return n, nil
}

func (n *Node) setupP2P() error {
	cfg := n.cfg
	n.p2pNode = p2p.New(p2p.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Port:       cfg.P2P.Port,
		Seeds:      cfg.P2P.Seeds,
		MaxPeers:   cfg.P2P.MaxPeers,
		NoDiscover: cfg.P2P.NoDiscover,
		DB:         storage.NewPrefixDB(n.db, p2pPrefix),
		DHTServer:  cfg.P2P.DHTServer,
		NetworkID:  cfg.NetworkID(),
		DataDir:    cfg.ChainDataDir(),
	})
	n.p2pNode.EnableHandshake(n.key, func() uint32 { return latestSeq(n.ch) })

	svc, err := community.New(communityConfig(cfg.Gossip), n.ch, n.p2pNode)
	if err != nil {
		return fmt.Errorf("create community: %w", err)
	}
	n.community = svc
	svc.SetChainPeers(n.p2pNode)
	n.p2pNode.SetMessageHandler(svc.HandleMessage)
	n.p2pNode.SetHeadHandler(svc.HandleHead)

	if err := n.p2pNode.Start(); err != nil {
		n.p2pNode = nil
		return fmt.Errorf("start P2P: %w", err)
	}
	n.logger.Info().
		Str("id", n.p2pNode.ID().String()).
		Int("port", cfg.P2P.Port).
		Bool("discovery", !cfg.P2P.NoDiscover).
		Msg("P2P node started")

	if cfg.P2P.ClearBans {
		n.clearBans()
	}

	if err := n.p2pNode.JoinHeads(); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to join head announcements")
	} else {
		svc.SetHeadBroadcaster(n.p2pNode)
		n.logger.Info().Msg("Head announcements joined")
	}
	return nil
}

// clearBans lifts every persisted ban.
func (n *Node) clearBans() {
	count := n.p2pNode.BanManager.ClearAll()
	n.logger.Info().Int("count", count).Msg("Peer bans cleared")
}

// Start launches the background loops: head announcements and ban pruning.
func (n *Node) Start() error {
	if n.community != nil {
		n.community.Start()
	}
	if n.p2pNode != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.p2pNode.BanManager.RunPruneLoop(n.ctx.Done())
		}()
	}

	n.logger.Info().
		Str("public_key", n.ch.PublicKey().Short()).
		Uint32("latest_seq", latestSeq(n.ch)).
		Bool("p2p", n.p2pNode != nil).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.close()
	n.logger.Info().Msg("Goodbye!")
}

func (n *Node) close() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.community != nil {
		n.community.Stop()
	}
	if n.p2pNode != nil {
		n.p2pNode.Stop()
	}
	if n.key != nil {
		n.key.Zero()
	}
	if n.db != nil {
		n.db.Close()
	}
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Chain returns the node's chain.
func (n *Node) Chain() *chain.Chain { return n.ch }

// Community returns the dissemination service, nil when P2P is disabled.
func (n *Node) Community() *community.Service { return n.community }

// PublicKey returns the node's chain identity.
func (n *Node) PublicKey() types.PublicKey { return n.ch.PublicKey() }
