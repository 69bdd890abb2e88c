// Package config holds the relay's immutable startup configuration.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ViaType selects how the relay reaches the target: directly, or through
// an HTTP CONNECT proxy.
type ViaType int

const (
	ViaNone ViaType = iota
	ViaHTTPProxy
)

func (v ViaType) String() string {
	switch v {
	case ViaHTTPProxy:
		return "http_proxy"
	default:
		return "none"
	}
}

// ParseViaType validates the --via flag value.
func ParseViaType(s string) (ViaType, error) {
	switch s {
	case "none", "":
		return ViaNone, nil
	case "http_proxy":
		return ViaHTTPProxy, nil
	default:
		return ViaNone, fmt.Errorf("invalid --via value %q, must be one of: none, http_proxy", s)
	}
}

// Address is a resolvable host/port pair. Host may be a DNS name, an IPv4
// literal, or an IPv6 literal (without brackets).
type Address struct {
	Host string
	Port uint16
}

func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// HostPort renders the address the way it belongs on the wire or in a
// net.Dial call: bracketed if it is an IPv6 literal.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

// ConnectHost renders the address the way the HTTP CONNECT request line
// wants it: "host:port", or "[host]:port" for an IPv6 literal target.
func (a Address) ConnectHost() string {
	if strings.Contains(a.Host, ":") {
		return fmt.Sprintf("[%s]:%d", a.Host, a.Port)
	}
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

var hostPortRe = regexp.MustCompile(`^(.+):(\d+)$`)

// ParseAddress parses "host:port", "ipv4:port" or "[ipv6]:port" into an
// Address, rejecting ports outside 1..65535.
func ParseAddress(s string) (Address, error) {
	m := hostPortRe.FindStringSubmatch(s)
	if m == nil {
		return Address{}, fmt.Errorf("invalid address %q, want host:port", s)
	}
	host := m[1]
	port, err := ParsePort(m[2])
	if err != nil {
		return Address{}, err
	}
	if strings.Contains(host, ":") {
		if !strings.HasPrefix(host, "[") || !strings.HasSuffix(host, "]") {
			return Address{}, fmt.Errorf("invalid address %q, IPv6 host must be bracketed", s)
		}
		host = host[1 : len(host)-1]
	}
	return Address{Host: host, Port: port}, nil
}

// ParsePort validates a decimal port string.
func ParsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %q out of range 1..65535", s)
	}
	return uint16(n), nil
}

// RelayConfig is built once at startup from CLI flags and never mutated
// afterward. It is copied by value into every Session.
type RelayConfig struct {
	ListenAddr    net.IP
	ListenPort    uint16
	Target        Address
	IdleTimeout   int // seconds, > 0
	Via           ViaType
	HTTPProxy     Address
	WorkerThreads int
	LogLevel      string
}

// SessionConfig is the subset of RelayConfig a Session needs, copied by
// value at spawn time so nothing a session reads can be mutated out from
// under it.
type SessionConfig struct {
	Target      Address
	IdleTimeout int
	Via         ViaType
	HTTPProxy   Address
}

// Session projects the fields a Session cares about out of the full
// RelayConfig.
func (c RelayConfig) Session() SessionConfig {
	return SessionConfig{
		Target:      c.Target,
		IdleTimeout: c.IdleTimeout,
		Via:         c.Via,
		HTTPProxy:   c.HTTPProxy,
	}
}

// ServerAddress returns the address the Session should connect() to first:
// the HTTP proxy when via=http_proxy, otherwise the target itself.
func (c SessionConfig) ServerAddress() Address {
	if c.Via == ViaHTTPProxy {
		return c.HTTPProxy
	}
	return c.Target
}

// Validate checks the cross-field constraints that go-flags struct tags
// cannot express on their own.
func (c RelayConfig) Validate() error {
	if c.Target.IsZero() {
		return fmt.Errorf("missing required argument -t/--target")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("--timeout must be greater than 0")
	}
	if c.Via == ViaHTTPProxy && c.HTTPProxy.IsZero() {
		return fmt.Errorf("--http_proxy is required because --via is set to http_proxy")
	}
	if c.WorkerThreads <= 0 {
		return fmt.Errorf("--threads must be greater than 0")
	}
	return nil
}
