package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/diogin/tcp-relay/internal/config"
	"github.com/diogin/tcp-relay/internal/logging"
	"github.com/diogin/tcp-relay/internal/sockopt"
)

const firstSessionID = 10000

// Server binds the listening endpoint and spawns a Session per accepted
// connection, tagging each with a monotonically increasing session id.
type Server struct {
	listener      *net.TCPListener
	sessionConfig config.SessionConfig
	log           zerolog.Logger
	nextID        atomic.Uint64
}

// NewServer binds (listenAddr, listenPort). A bind failure is fatal.
func NewServer(cfg config.RelayConfig, log zerolog.Logger) (*Server, error) {
	addr := &net.TCPAddr{IP: cfg.ListenAddr, Port: int(cfg.ListenPort)}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	s := &Server{
		listener:      ln,
		sessionConfig: cfg.Session(),
		log:           log,
	}
	s.nextID.Store(firstSessionID)
	return s, nil
}

// Addr returns the bound listening address, mainly useful in tests that
// bind to port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Listen accepts connections until ctx is cancelled or the listener
// reports a permanent error. Every acceptance spawns an independent
// goroutine running a Session; a slow or stuck session never blocks
// acceptance of the next connection.
func (s *Server) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isTransientAcceptError(err) {
				s.log.Warn().Err(err).Msg("transient accept error, continuing")
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		_ = sockopt.DisableNagle(conn)

		id := s.nextID.Add(1) - 1
		sessionLog := logging.Session(s.log, id)
		go NewSession(id, s.sessionConfig, sessionLog).Relay(conn)
	}
}

// isTransientAcceptError reports whether err is the kind of momentary
// condition (too many open files, a peer that aborted before accept
// completed) a production accept loop should log and continue past,
// rather than the kind (a bad descriptor) that means the listener itself
// is broken.
func isTransientAcceptError(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}
