package relay

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/diogin/tcp-relay/internal/config"
	"github.com/diogin/tcp-relay/internal/sockopt"
)

const (
	resolveTimeout = 20 * time.Second
	connectTimeout = 20 * time.Second
)

var dialer = net.Dialer{}

// connectToServer resolves addr and tries each candidate endpoint in
// order, each bounded by its own 20-second watchdog, until one accepts a
// connection. It returns ErrConnectFailed if every candidate is
// exhausted.
func connectToServer(log zerolog.Logger, addr config.Address) (net.Conn, error) {
	host, port := addr.Host, strconv.FormatUint(uint64(addr.Port), 10)

	log.Trace().Msgf("start resolving %s:%s", host, port)
	wd := NewWatchdog()
	ctx := wd.Arm(resolveTimeout)
	ipAddrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	wd.Stop()
	if wd.Expired() {
		log.Error().Msgf("resolve %s:%s timeout", host, port)
		return nil, fmt.Errorf("resolve %s:%s: %w", host, port, ErrTimedOut)
	}
	if err != nil {
		log.Error().Err(err).Msgf("resolve %s:%s error", host, port)
		return nil, fmt.Errorf("resolve %s:%s: %w", host, port, err)
	}
	log.Trace().Msgf("resolve %s:%s success", host, port)

	for _, ip := range ipAddrs {
		endpoint := net.JoinHostPort(ip.IP.String(), port)
		wd := NewWatchdog()
		ctx := wd.Arm(connectTimeout)
		log.Trace().Msgf("start connecting %s:%s(%s)", host, port, endpoint)
		conn, err := dialer.DialContext(ctx, "tcp", endpoint)
		wd.Stop()
		if err != nil {
			if wd.Expired() {
				err = ErrTimedOut
			}
			log.Trace().Err(err).Msgf("connect to %s:%s(%s) error", host, port, endpoint)
			continue
		}
		_ = sockopt.DisableNagle(conn)
		log.Debug().Msgf("successfully connected to %s:%s(%s)", host, port, endpoint)
		return conn, nil
	}

	log.Error().Msgf("failed to connect to %s:%s", host, port)
	return nil, fmt.Errorf("%w: %s:%s", ErrConnectFailed, host, port)
}
