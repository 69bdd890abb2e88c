// Package relay implements the per-connection pipeline: connect to the
// chosen server (directly, or through an HTTP CONNECT proxy), then
// shuttle bytes in both directions until either side closes, an error
// occurs, or the session goes idle for longer than its configured
// timeout.
package relay

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/diogin/tcp-relay/internal/config"
)

// Session is the per-connection state machine. It owns the inbound socket
// from the moment it is constructed, and the outbound socket once
// connectToServer succeeds; both are released on every exit path.
type Session struct {
	id     uint64
	config config.SessionConfig
	log    zerolog.Logger
}

// NewSession builds a Session. log should already be scoped to this
// session (carrying the "[session: id] | " prefix); id is kept
// separately to label the error returned from the connect phase.
func NewSession(id uint64, cfg config.SessionConfig, log zerolog.Logger) *Session {
	return &Session{id: id, config: cfg, log: log}
}

// Relay drives client through connect -> optional handshake -> duplex
// transfer -> teardown. Every error along the way is absorbed here: a
// failing session never propagates past this call.
func (s *Session) Relay(client net.Conn) {
	defer client.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("session panicked")
		}
		s.log.Info().Msg("end connection")
	}()

	s.log.Info().Msgf("start connection from %s", client.RemoteAddr())

	server, err := s.connect()
	if err != nil {
		return
	}
	defer server.Close()

	var downlinkPrefix []byte
	if s.config.Via == config.ViaHTTPProxy {
		downlinkPrefix, err = httpProxyHandshake(s.log, server, s.config.Target)
		if err != nil {
			return
		}
	}

	tunnelTransfer(s.log, client, server, time.Duration(s.config.IdleTimeout)*time.Second, downlinkPrefix)
}

func (s *Session) connect() (net.Conn, error) {
	target := s.config.ServerAddress()
	if s.config.Via == config.ViaHTTPProxy {
		s.log.Debug().Msgf("start connecting to the http proxy server %s", target.HostPort())
	} else {
		s.log.Debug().Msgf("start connecting to %s", target.HostPort())
	}
	conn, err := connectToServer(s.log, target)
	if err != nil {
		return nil, fmt.Errorf("session %d: %w", s.id, err)
	}
	return conn, nil
}
