// Package transport carries the framework's endpoint links over tcp:// and
// ws:// URIs. Endpoints exchange discrete messages: on tcp each message is one
// newline-terminated JSON document, on ws each message is one text frame.
//
// The endpoint types mirror the framework's socket roles: RepListener/ReqConn
// for the lockstep query path, RouterListener/RouterConn for the identity-
// routed command path, and PubListener/SubConn for the broadcast path.
package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// URI is a parsed endpoint address. Host "*" binds all interfaces; Port 0
// requests an ephemeral port at bind time.
type URI struct {
	Scheme string
	Host   string
	Port   int
}

// ParseURI parses "tcp://host:port" or "ws://host:port".
func ParseURI(raw string) (URI, error) {
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return URI{}, fmt.Errorf("uri %q: missing scheme", raw)
	}
	if scheme != "tcp" && scheme != "ws" {
		return URI{}, fmt.Errorf("uri %q: unsupported scheme %q", raw, scheme)
	}
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return URI{}, fmt.Errorf("uri %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return URI{}, fmt.Errorf("uri %q: bad port %q", raw, portStr)
	}
	return URI{Scheme: scheme, Host: host, Port: port}, nil
}

func (u URI) String() string {
	return u.Scheme + "://" + u.HostPort()
}

// HostPort renders the dialable address part.
func (u URI) HostPort() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// bindAddr renders the address passed to net.Listen. "*" and "" both mean all
// interfaces.
func (u URI) bindAddr() string {
	if u.Host == "*" || u.Host == "" {
		return ":" + strconv.Itoa(u.Port)
	}
	return u.HostPort()
}

// WithPort returns a copy addressed at a different port. Peers use this to
// combine a hub's known host with the ports it advertises in a connect_reply.
func (u URI) WithPort(port int) URI {
	u.Port = port
	return u
}
