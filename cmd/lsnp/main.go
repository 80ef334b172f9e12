// Package main runs an LSNP peer with an interactive shell and an optional HTTP API
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/lsnp-node/pkg/api"
	"github.com/ZentaChain/lsnp-node/pkg/config"
	"github.com/ZentaChain/lsnp-node/pkg/network"
	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

var log = logging.Logger("lsnp/cmd")

func main() {
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	username := flag.String("user", "", "Username (overrides config)")
	address := flag.String("address", "", "IPv4 address announced in the user id")
	listen := flag.String("listen", "", "Listen multiaddr, e.g. /ip4/0.0.0.0/udp/50999")
	broadcast := flag.String("broadcast", "", "Broadcast multiaddr, e.g. /ip4/255.255.255.255/udp/50999")
	apiAddr := flag.String("api", "", "Serve the HTTP API on this address")
	history := flag.String("history", "", "SQLite history path (\":memory:\" keeps it in memory)")
	verbose := flag.Bool("verbose", false, "Print protocol diagnostics")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	simulate := flag.Bool("simulate", false, "Simulation mode for several peers on one host")
	noShell := flag.Bool("no-shell", false, "Run without the interactive shell")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *username != "" {
		cfg.Identity.Username = *username
	}
	if *address != "" {
		cfg.Identity.Address = *address
	}
	if *listen != "" {
		cfg.Network.ListenAddr = *listen
	}
	if *broadcast != "" {
		cfg.Network.BroadcastAddr = *broadcast
	}
	if *apiAddr != "" {
		cfg.API.Enabled = true
		cfg.API.Addr = *apiAddr
	}
	if *history != "" {
		cfg.Storage.Path = *history
	}
	if *verbose {
		cfg.Network.Verbose = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *simulate {
		cfg.Network.Mode = config.ModeSimulate
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, !*noShell); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, interactive bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pc, err := cfg.PeerConfig()
	if err != nil {
		return err
	}

	transport, err := network.ListenUDP(ctx, cfg.Network.ListenAddr, cfg.Network.BroadcastAddr)
	if err != nil {
		return err
	}

	archive, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		transport.Close()
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer archive.Close()

	hub := network.NewHub()
	peer, err := network.NewPeer(pc, transport, network.WithNotifier(hub), network.WithArchive(archive))
	if err != nil {
		transport.Close()
		return err
	}
	restorePeers(peer, archive)
	peer.Start(ctx)

	fmt.Println("LSNP peer")
	fmt.Println("=========")
	fmt.Printf("  User ID:   %s\n", peer.UserID())
	fmt.Printf("  Name:      %s\n", peer.DisplayName())
	fmt.Printf("  Listen:    %s\n", cfg.Network.ListenAddr)
	fmt.Printf("  Broadcast: %s\n", cfg.Network.BroadcastAddr)
	fmt.Printf("  History:   %s\n", cfg.Storage.Path)
	fmt.Println()

	if cfg.API.Enabled {
		apiCfg := api.DefaultConfig()
		apiCfg.Addr = cfg.API.Addr
		apiCfg.EnableCORS = cfg.API.EnableCORS
		server := api.NewServer(peer, hub, apiCfg)
		go func() {
			if err := server.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
		fmt.Printf("HTTP API on http://%s/api/v1 (events at /api/v1/events)\n\n", cfg.API.Addr)
	}

	events, unsubscribe := hub.Subscribe(128)
	defer unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if interactive {
		sh := newShell(peer)
		go printEvents(ctx, sh, peer, events)
		go func() {
			<-sigCh
			sh.Close()
		}()
		sh.Run()
	} else {
		go printEvents(ctx, nil, peer, events)
		<-sigCh
	}

	fmt.Println("\nShutting down...")
	cancel()
	if err := peer.Close(); err != nil {
		log.Warnf("error closing peer: %v", err)
	}
	return nil
}

// restorePeers seeds the directory with peers seen in earlier sessions
func restorePeers(peer *network.Peer, archive *storage.Archive) {
	known, err := archive.AllPeers()
	if err != nil {
		log.Warnf("failed to load known peers: %v", err)
		return
	}
	for _, rec := range known {
		if rec.UserID != peer.UserID() {
			peer.Directory().UpsertPeer(rec)
		}
	}
	if len(known) > 0 {
		log.Infof("restored %d known peers", len(known))
	}
}
