// Command tcp-relay accepts inbound TCP connections and shuttles bytes
// to a configured target, optionally through an HTTP CONNECT proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/diogin/tcp-relay/internal/config"
	"github.com/diogin/tcp-relay/internal/logging"
	"github.com/diogin/tcp-relay/internal/relay"
)

func main() {
	cfg := config.ParseArgs(os.Args[1:])
	printConfig(cfg)

	runtime.GOMAXPROCS(cfg.WorkerThreads)

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.NewStdout(level)

	server, err := relay.NewServer(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to start relay")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Msgf("listening on %s", server.Addr())
	if err := server.Listen(ctx); err != nil {
		log.Error().Err(err).Msg("relay stopped")
		os.Exit(1)
	}
}

func printConfig(cfg config.RelayConfig) {
	if cfg.ListenAddr.To4() == nil {
		fmt.Printf("Listen address: [%s]:%d\n", cfg.ListenAddr, cfg.ListenPort)
	} else {
		fmt.Printf("Listen address: %s:%d\n", cfg.ListenAddr, cfg.ListenPort)
	}
	fmt.Printf("Target address: %s\n", cfg.Target.HostPort())
	if cfg.Via == config.ViaHTTPProxy {
		fmt.Printf("Via HTTP-Proxy: %s\n", cfg.HTTPProxy.HostPort())
	}
	fmt.Printf("Connection timeout: %d\n", cfg.IdleTimeout)
}
