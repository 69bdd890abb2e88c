package relay

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/diogin/tcp-relay/internal/config"
	"github.com/diogin/tcp-relay/internal/logging"
	"github.com/rs/zerolog"
)

func startEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func testLogger() zerolog.Logger {
	return logging.Session(logging.New(&bytes.Buffer{}, zerolog.Disabled), 1)
}

// TestSessionDirectRelay covers the non-proxied path: bytes written to the
// client side must come back echoed through the target.
func TestSessionDirectRelay(t *testing.T) {
	targetAddr, stopTarget := startEchoServer(t)
	defer stopTarget()

	host, portStr, _ := net.SplitHostPort(targetAddr)
	port, _ := config.ParsePort(portStr)

	cfg := config.SessionConfig{
		Target:      config.Address{Host: host, Port: port},
		IdleTimeout: 2,
		Via:         config.ViaNone,
	}

	clientSide, sessionSide := net.Pipe()
	defer clientSide.Close()

	go NewSession(1, cfg, testLogger()).Relay(sessionSide)

	message := []byte("hello through the relay")
	if _, err := clientSide.Write(message); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, len(message))
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(clientSide, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, message) {
		t.Errorf("got %q, want %q", buf, message)
	}
}

// TestSessionConnectFailure covers a target that refuses every connection
// attempt: the session must close the client side without hanging.
func TestSessionConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listens here anymore

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := config.ParsePort(portStr)

	cfg := config.SessionConfig{
		Target:      config.Address{Host: host, Port: port},
		IdleTimeout: 2,
		Via:         config.ViaNone,
	}

	clientSide, sessionSide := net.Pipe()

	done := make(chan struct{})
	go func() {
		NewSession(2, cfg, testLogger()).Relay(sessionSide)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session never returned after a connect failure")
	}

	buf := make([]byte, 1)
	clientSide.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := clientSide.Read(buf); err == nil {
		t.Error("expected client side to observe closure")
	}
}

// TestSessionIdleTimeout covers the idle-timeout supervisor: with no
// traffic flowing in either direction, both sockets are force-closed once
// the configured idle timeout elapses.
func TestSessionIdleTimeout(t *testing.T) {
	targetAddr, stopTarget := startEchoServer(t)
	defer stopTarget()

	host, portStr, _ := net.SplitHostPort(targetAddr)
	port, _ := config.ParsePort(portStr)

	cfg := config.SessionConfig{
		Target:      config.Address{Host: host, Port: port},
		IdleTimeout: 1,
		Via:         config.ViaNone,
	}

	clientSide, sessionSide := net.Pipe()
	defer clientSide.Close()

	done := make(chan struct{})
	go func() {
		NewSession(3, cfg, testLogger()).Relay(sessionSide)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session never timed out on idle connection")
	}
}

// startHTTPProxyEcho accepts one connection, answers a CONNECT request
// with 200, and then echoes every byte it receives afterward, standing
// in for an HTTP proxy tunneled through to an echo target.
func startHTTPProxyEcho(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			return
		}
		io.Copy(conn, r)
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

// TestSessionHTTPProxyRelayOutlivesHandshakeWatchdog covers scenario S4:
// a proxied session must keep transferring data well past the handshake
// watchdog's own window, relying solely on the idle-activity Deadline
// rather than any leftover socket deadline from the handshake phase.
func TestSessionHTTPProxyRelayOutlivesHandshakeWatchdog(t *testing.T) {
	previousHandshakeTimeout := handshakeTimeout
	handshakeTimeout = 30 * time.Millisecond
	defer func() { handshakeTimeout = previousHandshakeTimeout }()

	proxyAddr, stopProxy := startHTTPProxyEcho(t)
	defer stopProxy()

	host, portStr, _ := net.SplitHostPort(proxyAddr)
	port, _ := config.ParsePort(portStr)

	cfg := config.SessionConfig{
		Target:      config.Address{Host: "backend.internal", Port: 443},
		IdleTimeout: 5,
		Via:         config.ViaHTTPProxy,
		HTTPProxy:   config.Address{Host: host, Port: port},
	}

	clientSide, sessionSide := net.Pipe()
	defer clientSide.Close()

	go NewSession(5, cfg, testLogger()).Relay(sessionSide)

	// Wait well past the shortened handshake watchdog before sending
	// anything, so a leftover deadline on the proxy connection would
	// already have expired by the time this write happens.
	time.Sleep(200 * time.Millisecond)

	message := []byte("still alive past the handshake watchdog")
	if _, err := clientSide.Write(message); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(message))
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(clientSide, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, message) {
		t.Errorf("got %q, want %q", buf, message)
	}
}

// TestSessionIPv6Target covers connecting to an IPv6 loopback literal.
func TestSessionIPv6Target(t *testing.T) {
	ln, err := net.Listen("tcp", "[::1]:0")
	if err != nil {
		t.Skipf("IPv6 loopback unavailable: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := config.ParsePort(portStr)

	cfg := config.SessionConfig{
		Target:      config.Address{Host: "::1", Port: port},
		IdleTimeout: 2,
		Via:         config.ViaNone,
	}

	clientSide, sessionSide := net.Pipe()
	defer clientSide.Close()

	go NewSession(4, cfg, testLogger()).Relay(sessionSide)

	message := []byte("ipv6 round trip")
	if _, err := clientSide.Write(message); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(message))
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(clientSide, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, message) {
		t.Errorf("got %q, want %q", buf, message)
	}
}
