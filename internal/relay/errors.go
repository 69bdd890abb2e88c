package relay

import "errors"

// Sentinel errors recovered via errors.Is regardless of how many layers
// of fmt.Errorf("...: %w", err) wrap them.
var (
	// ErrTimedOut marks any failure caused by a Watchdog firing rather
	// than the underlying I/O itself failing.
	ErrTimedOut = errors.New("timed out")

	// ErrConnectFailed means every resolved endpoint was tried and none
	// accepted a connection within its per-attempt watchdog.
	ErrConnectFailed = errors.New("failed to connect")

	// ErrHeaderTooLarge means the HTTP CONNECT response header exceeded
	// maxHeaderSize before the "\r\n\r\n" terminator was found.
	ErrHeaderTooLarge = errors.New("http response header too large")

	// ErrBadResponseHeader means the CONNECT response status line did
	// not match the expected HTTP/1.x status-line grammar.
	ErrBadResponseHeader = errors.New("bad HTTP response header")

	// ErrHandshakeRefused means the CONNECT response parsed fine but its
	// status code was not 200.
	ErrHandshakeRefused = errors.New("HTTP connect failed")
)
