// Command echo-server is a minimal TCP echo server used to benchmark
// tcp-relay: it accepts connections forever and writes back every byte
// it reads, tracking total connections and bytes for a shutdown summary.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	flags "github.com/jessevdk/go-flags"
)

type args struct {
	Port    uint16 `short:"p" long:"port" default:"5001" description:"Port to listen on"`
	Threads int    `long:"threads" default:"4" description:"Number of worker threads"`
}

var (
	totalConnections atomic.Uint64
	totalBytes       atomic.Uint64
)

func main() {
	var a args
	parser := flags.NewParser(&a, flags.Default)
	parser.Name = "echo-server"
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	runtime.GOMAXPROCS(a.Threads)

	fmt.Printf("Echo Server starting on port %d with %d threads...\n", a.Port, a.Threads)

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: int(a.Port)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		fmt.Printf("Total connections: %d\n", totalConnections.Load())
		fmt.Printf("Total bytes: %d\n", totalBytes.Load())
		ln.Close()
	}()

	fmt.Printf("Echo Server listening on 0.0.0.0:%d\n", a.Port)
	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go echoSession(conn)
	}
}

func echoSession(conn net.Conn) {
	defer conn.Close()
	totalConnections.Add(1)
	buf := make([]byte, 8192)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			totalBytes.Add(uint64(n))
			written := 0
			for written < n {
				m, werr := conn.Write(buf[written:n])
				if werr != nil {
					return
				}
				totalBytes.Add(uint64(m))
				written += m
			}
		}
		if err != nil {
			return
		}
	}
}
