//go:build linux

// Package sockopt applies the one socket-tuning knob this relay cares
// about: disabling Nagle's algorithm so small, interactive writes are not
// held back waiting for a full segment or an ACK.
package sockopt

import (
	"net"

	"golang.org/x/sys/unix"
)

// DisableNagle sets TCP_NODELAY on conn's underlying file descriptor.
// conn must be a *net.TCPConn; any other type is a no-op.
func DisableNagle(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}
