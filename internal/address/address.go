// Package address implements the address & resolver shims: two
// parallel address types, one per tunnel direction, that delegate every
// attribute to a wrapped base net.Addr except the socket-interface
// accessor, which names the custodial socket interface of the matching
// direction.
package address

import (
	"fmt"
	"net"
	"strconv"
)

// Registered resolver names (— part of the external interface,
// kept verbatim).
const (
	ResolverReverseConnectionTargetHost = "envoy.resolvers.reverse_connection_target_host"
	ResolverUpstreamReverseConnection   = "envoy.resolvers.upstream_reverse_connection"
)

// Direction distinguishes the two parallel address types.
type Direction int

const (
	Initiator Direction = iota
	Acceptor
)

func (d Direction) SocketInterfaceName() string {
	if d == Initiator {
		return "envoy.bootstrap.reverse_tunnel.initiator_client_socket_interface"
	}
	return "envoy.bootstrap.reverse_tunnel.upstream_socket_interface.acceptor"
}

// Address wraps a base net.Addr together with the tunnel direction whose
// custodial socket interface it routes to. Every attribute delegates to Base except
// SocketInterfaceName, which reports the custodial socket interface name
// for Dir.
type Address struct {
	Base net.Addr
	Dir  Direction
}

func (a *Address) Network() string { return a.Base.Network() }
func (a *Address) String() string  { return a.Base.String() }

// SocketInterfaceName returns the registered name of the socket interface
// that should be used to create sockets for this address.
func (a *Address) SocketInterfaceName() string { return a.Dir.SocketInterfaceName() }

// ResolveSocketAddress parses a "host:port" configuration message into a
// *net.TCPAddr, the "base address" refers to. It fails with
// ErrInvalidArgument if the base address fails to parse — the resolver
// never manufactures a default.
func ResolveSocketAddress(hostPort string) (*net.TCPAddr, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, hostPort, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric port in %s", ErrInvalidArgument, hostPort)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot resolve host %s: %v", ErrInvalidArgument, host, err)
		}
		ip = resolved.IP
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// NewAddress wraps a resolved base address for the given direction.
func NewAddress(base net.Addr, dir Direction) *Address {
	return &Address{Base: base, Dir: dir}
}

// ErrInvalidArgument is returned by ResolveSocketAddress when a configured
// host:port string fails to parse or resolve.
var ErrInvalidArgument = fmt.Errorf("invalid argument")

// SyntheticAddress is the loopback placeholder address a reverse-tunnel
// cluster hands out for a synthetic host (SyntheticHost: "a
// synthetic IP address (127.0.0.1:0)"). Its logical name carries the node
// identity through the rest of the proxy's cluster-manager machinery.
type SyntheticAddress struct {
	logicalName string
}

// NewSyntheticAddress builds the synthetic address for identity. An empty
// identity is accepted: a bare host suffix (e.g. ".tcpproxy.envoy.remote")
// parses to identity "" and still mints a usable synthetic host.
func NewSyntheticAddress(identity string) (*SyntheticAddress, error) {
	return &SyntheticAddress{logicalName: identity}, nil
}

func (s *SyntheticAddress) Network() string { return "tcp" }
func (s *SyntheticAddress) String() string  { return "127.0.0.1:0" }

// LogicalName is the node identity this synthetic address carries.
func (s *SyntheticAddress) LogicalName() string { return s.logicalName }
