//go:build !linux

package sockopt

import "net"

// DisableNagle sets no-delay through net.TCPConn.SetNoDelay on platforms
// where we don't carry a raw-socket code path; any conn that is not a
// *net.TCPConn is left untouched.
func DisableNagle(conn net.Conn) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		return tcpConn.SetNoDelay(true)
	}
	return nil
}
