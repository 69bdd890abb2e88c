package relay

import (
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const transferBufferSize = 4096

// tunnelTransfer runs the duplex transfer phase: uplink and downlink each
// run to completion (EOF or error) sharing one idle Deadline, raced
// against a supervisor that fires when the Deadline expires. If the
// supervisor fires first, both sockets are closed to force the pipes to
// stop; if both pipes finish first, the supervisor is stopped. Either way
// both pipes are waited on before returning.
func tunnelTransfer(log zerolog.Logger, client, server net.Conn, idleTimeout time.Duration, downlinkPrefix []byte) {
	log.Debug().Msg("start tunnel transfer")

	// The http-proxy handshake's watchdog may have left an absolute
	// deadline set on the server socket. From here on,
	// the shared Deadline and its supervisor below are the only idle
	// timeout; clear any leftover socket deadline so it can't fire early.
	client.SetDeadline(time.Time{})
	server.SetDeadline(time.Time{})

	deadline := NewDeadline()
	deadline.ExpiresAfter(idleTimeout)

	pipesDone := make(chan struct{})
	go func() {
		var eg errgroup.Group
		eg.Go(func() error {
			return transferDirection(log, "uplink", client, server, deadline, idleTimeout, nil)
		})
		eg.Go(func() error {
			return transferDirection(log, "downlink", server, client, deadline, idleTimeout, downlinkPrefix)
		})
		_ = eg.Wait()
		close(pipesDone)
	}()

	stopSupervisor := make(chan struct{})
	supervisorDone := make(chan struct{})
	go func() {
		superviseDeadline(deadline, stopSupervisor)
		close(supervisorDone)
	}()

	select {
	case <-pipesDone:
		close(stopSupervisor)
		<-supervisorDone
	case <-supervisorDone:
		log.Debug().Msg("tunnel transfer connection closed due to timeout")
		client.Close()
		server.Close()
		<-pipesDone
	}

	log.Debug().Msg("end tunnel transfer")
}

// superviseDeadline sleeps until deadline's time point, rechecking on
// every wake in case a pipe pushed it further out in the meantime, and
// returns as soon as it observes an actually-expired deadline. It can
// also be cancelled early via stop, used when both pipes finish first.
func superviseDeadline(deadline *Deadline, stop <-chan struct{}) {
	timer := time.NewTimer(time.Until(deadline.TimePoint()))
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			if deadline.IsExpired() {
				return
			}
			timer.Reset(time.Until(deadline.TimePoint()))
		}
	}
}

// transferDirection is the per-pipe loop: read a chunk, push the shared
// deadline, write the chunk out in full (pushing the deadline again
// before each partial write), repeat until EOF or an error on either
// side. prefix, if non-empty, is written before the first read — used to
// deliver HTTP CONNECT response overshoot bytes as the first bytes of
// the downlink.
func transferDirection(log zerolog.Logger, name string, from, to net.Conn, deadline *Deadline, idleTimeout time.Duration, prefix []byte) error {
	if len(prefix) > 0 {
		if err := writeChunk(to, deadline, idleTimeout, prefix); err != nil {
			log.Debug().Err(err).Msgf("%s transfer write error", name)
			return err
		}
	}

	buf := make([]byte, transferBufferSize)
	for {
		deadline.ExpiresAfter(idleTimeout)
		n, err := from.Read(buf)
		if n > 0 {
			if werr := writeChunk(to, deadline, idleTimeout, buf[:n]); werr != nil {
				log.Debug().Err(werr).Msgf("%s transfer write error", name)
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				log.Debug().Msgf("%s transfer read eof", name)
				return nil
			}
			log.Debug().Err(err).Msgf("%s transfer read error", name)
			return err
		}
	}
}

func writeChunk(to net.Conn, deadline *Deadline, idleTimeout time.Duration, data []byte) error {
	written := 0
	for written < len(data) {
		deadline.ExpiresAfter(idleTimeout)
		n, err := to.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
