package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/diogin/tcp-relay/internal/config"
	"github.com/rs/zerolog"
)

func TestServerRelaysEndToEnd(t *testing.T) {
	targetAddr, stopTarget := startEchoServer(t)
	defer stopTarget()

	host, portStr, _ := net.SplitHostPort(targetAddr)
	port, _ := config.ParsePort(portStr)

	cfg := config.RelayConfig{
		ListenAddr:  net.ParseIP("127.0.0.1"),
		Target:      config.Address{Host: host, Port: port},
		IdleTimeout: 2,
	}

	log := zerolog.New(&bytes.Buffer{}).Level(zerolog.Disabled)
	server, err := NewServer(cfg, log)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Listen(ctx)

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	message := []byte("round trip through the listener")
	if _, err := conn.Write(message); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(message))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, message) {
		t.Errorf("got %q, want %q", buf, message)
	}
}

func TestServerStopsOnContextCancel(t *testing.T) {
	cfg := config.RelayConfig{
		ListenAddr:  net.ParseIP("127.0.0.1"),
		Target:      config.Address{Host: "127.0.0.1", Port: 1},
		IdleTimeout: 2,
	}
	log := zerolog.New(&bytes.Buffer{}).Level(zerolog.Disabled)
	server, err := NewServer(cfg, log)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Listen returned %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen never returned after context cancel")
	}
}

func TestIsTransientAcceptError(t *testing.T) {
	if !isTransientAcceptError(syscall.EMFILE) {
		t.Error("EMFILE should be transient")
	}
	if !isTransientAcceptError(syscall.ECONNABORTED) {
		t.Error("ECONNABORTED should be transient")
	}
	if isTransientAcceptError(errors.New("some other failure")) {
		t.Error("an unrelated error should not be treated as transient")
	}
}
