// Package ping implements the server list ping client: one TCP connection
// per probe driving handshake, status, ping and pong through an explicit
// state machine, bounded by a connect timeout and an overall timeout.
package ping

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Target identifies the server to probe. It is an immutable snapshot
// supplied per call.
type Target struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// String returns host:port, bracketing IPv6 literals.
func (t Target) String() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(int(t.Port)))
}

// Validate checks that the target can be dialed.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Address) == "" {
		return errors.New("target address is empty")
	}
	if t.Port == 0 {
		return fmt.Errorf("target %q has no port", t.Address)
	}
	return nil
}

// ParseTarget parses "host:port" or a bare host, using defaultPort when
// the port is missing.
func ParseTarget(s string, defaultPort uint16) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, errors.New("empty target")
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port present
		t := Target{Address: strings.Trim(s, "[]"), Port: defaultPort}
		return t, t.Validate()
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Target{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	t := Target{Address: host, Port: uint16(port)}
	return t, t.Validate()
}
