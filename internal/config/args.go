package config

import (
	"fmt"
	"net"
	"os"

	flags "github.com/jessevdk/go-flags"
)

// Version is the relay's release version, printed by -v/--version.
const Version = "1.0.0"

// cliArgs lists every command-line flag the relay accepts. Struct tags
// are handed straight to go-flags; cross-field validation happens
// afterward in RelayConfig.Validate.
type cliArgs struct {
	Help       bool   `short:"h" long:"help" description:"Show this help message and exit"`
	Version    bool   `short:"v" long:"version" description:"Print the program version and exit"`
	ListenAddr string `short:"l" long:"listen_addr" default:"0.0.0.0" description:"Local address to listen on"`
	Port       uint16 `short:"p" long:"port" default:"8886" description:"Local port to listen on"`
	Target     string `short:"t" long:"target" description:"Target address (host:port) to connect"`
	Timeout    uint32 `long:"timeout" default:"240" description:"Idle timeout in seconds"`
	Via        string `long:"via" default:"none" description:"Transfer via other proxy: none or http_proxy"`
	HTTPProxy  string `long:"http_proxy" description:"HTTP-Proxy address (host:port)"`
	LogLevel   string `long:"log_level" default:"info" description:"Log level: trace, debug, info, warn, error, disable"`
	Threads    int    `long:"threads" default:"4" description:"Worker thread count"`
}

// ParseArgs parses os.Args[1:] into a RelayConfig. It writes usage/version
// text to stdout and calls os.Exit(0) for -h/-v, and writes an error to
// stderr and calls os.Exit(1) on any parse or validation failure.
func ParseArgs(argv []string) RelayConfig {
	var args cliArgs
	parser := flags.NewParser(&args, flags.None)
	parser.Name = "tcp-relay"
	parser.Usage = "[options]"

	if _, err := parser.ParseArgs(argv); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			parser.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	if args.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if args.Version {
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	cfg, err := buildConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}
	return cfg
}

func buildConfig(args cliArgs) (RelayConfig, error) {
	listenAddr := net.ParseIP(args.ListenAddr)
	if listenAddr == nil {
		return RelayConfig{}, fmt.Errorf("invalid --listen_addr %q", args.ListenAddr)
	}

	cfg := RelayConfig{
		ListenAddr:    listenAddr,
		ListenPort:    args.Port,
		IdleTimeout:   int(args.Timeout),
		WorkerThreads: args.Threads,
		LogLevel:      args.LogLevel,
	}

	if args.Target != "" {
		target, err := ParseAddress(args.Target)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("--target: %w", err)
		}
		cfg.Target = target
	}

	via, err := ParseViaType(args.Via)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg.Via = via

	if args.HTTPProxy != "" {
		proxy, err := ParseAddress(args.HTTPProxy)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("--http_proxy: %w", err)
		}
		cfg.HTTPProxy = proxy
	}

	switch args.LogLevel {
	case "trace", "debug", "info", "warn", "error", "disable":
	default:
		return RelayConfig{}, fmt.Errorf("invalid --log_level %q", args.LogLevel)
	}

	if args.Port == 0 {
		return RelayConfig{}, fmt.Errorf("--port %d out of range 1..65535", args.Port)
	}

	return cfg, nil
}
