// XChain peer daemon.
//
// Usage:
//
//	xchaind [--testnet] [--key-file=...]   Run node
//	xchaind --help                          Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/xchain/config"
	"github.com/Klingon-tech/xchain/internal/node"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "xchaind %s running as %s\n", config.Version, n.PublicKey())
	if addr := n.RPCAddr(); addr != "" {
		fmt.Fprintf(os.Stderr, "RPC listening on http://%s/\n", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
