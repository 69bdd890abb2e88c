package relay

import (
	"bytes"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/diogin/tcp-relay/internal/config"
)

const (
	maxHeaderSize    = 2048
	headerTerminator = "\r\n\r\n"
)

// handshakeTimeout bounds each handshake read/write. It is a var, not a
// const, so tests can shorten it instead of waiting out the real window.
var handshakeTimeout = 20 * time.Second

var statusLineRe = regexp.MustCompile(`(?i)^HTTP/1\.[01]\s+(\d+)\s+.*$`)

// httpProxyHandshake performs the CONNECT handshake over an already
// connected proxy socket. On success it returns any bytes read past the
// "\r\n\r\n" terminator: those belong to the downlink stream, not the
// handshake, and must be delivered to the client as the first bytes of
// the transfer phase rather than discarded.
func httpProxyHandshake(log zerolog.Logger, conn net.Conn, target config.Address) ([]byte, error) {
	host := target.ConnectHost()
	log.Debug().Msgf("http-proxy handshake CONNECT %s HTTP/1.1", host)
	request := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: keep-alive\r\n\r\n", host, host)

	if err := writeRequest(conn, request); err != nil {
		return nil, err
	}

	header, overshoot, err := readResponseHeader(conn)
	if err != nil {
		return nil, err
	}

	if err := validateStatusLine(header); err != nil {
		log.Error().Err(err).Msg("http-proxy handshake failed")
		return nil, err
	}
	log.Debug().Msg("http-proxy handshake success")
	return overshoot, nil
}

func writeRequest(conn net.Conn, request string) error {
	data := []byte(request)
	written := 0
	wd := NewWatchdog()
	for written < len(data) {
		wd.Arm(handshakeTimeout, conn)
		n, err := conn.Write(data[written:])
		if err != nil {
			expired := wd.Expired()
			wd.Stop()
			if expired {
				return fmt.Errorf("http-proxy handshake write request header: %w", ErrTimedOut)
			}
			return fmt.Errorf("http-proxy handshake write request header: %w", err)
		}
		written += n
	}
	wd.Stop()
	return nil
}

// readResponseHeader reads from conn until "\r\n\r\n" appears, bounded by
// one 20-second watchdog and a 2048-byte cap, and splits the result into
// the header (through the terminator) and any overshoot bytes read past
// it.
func readResponseHeader(conn net.Conn) (header []byte, overshoot []byte, err error) {
	wd := NewWatchdog()
	wd.Arm(handshakeTimeout, conn)
	defer wd.Stop()

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for {
		if idx := bytes.Index(buf, []byte(headerTerminator)); idx >= 0 {
			end := idx + len(headerTerminator)
			return buf[:end], buf[end:], nil
		}
		if len(buf) >= maxHeaderSize {
			return nil, nil, fmt.Errorf("http-proxy handshake read response header: %w", ErrHeaderTooLarge)
		}
		n, readErr := conn.Read(chunk[:min(len(chunk), maxHeaderSize-len(buf))])
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			if wd.Expired() {
				return nil, nil, fmt.Errorf("http-proxy handshake read response header: %w", ErrTimedOut)
			}
			return nil, nil, fmt.Errorf("http-proxy handshake read response header: %w", readErr)
		}
	}
}

func validateStatusLine(header []byte) error {
	line := header
	if idx := bytes.Index(header, []byte("\r\n")); idx >= 0 {
		line = header[:idx]
	}
	m := statusLineRe.FindSubmatch(line)
	if m == nil {
		return ErrBadResponseHeader
	}
	if string(m[1]) != "200" {
		return fmt.Errorf("%w: status %s", ErrHandshakeRefused, m[1])
	}
	return nil
}
