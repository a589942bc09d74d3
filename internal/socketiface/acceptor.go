package socketiface

import (
	"fmt"
	"net"

	"github.com/relaymesh/revtun/internal/address"
	"github.com/relaymesh/revtun/internal/iohandle"
)

// AcceptorInterface is the upstream_socket_interface.acceptor: it creates
// raw listening sockets and hands back custodial acceptor handles whose
// Accept() yields custodial children.
type AcceptorInterface struct {
	V6Only  bool
	Backlog int
}

func (a *AcceptorInterface) Name() string { return address.Acceptor.SocketInterfaceName() }

func (a *AcceptorInterface) CreateSocketNoAddress(sockType SockType) (iohandle.Handle, error) {
	return nil, ErrAddressRequired
}

// CreateSocket implements the acceptor path: socket(SOCK_NONBLOCK),
// SO_REUSEADDR, bind, wrapped in a custodial acceptor handle. Listen is
// deferred to a separate call so callers can still adjust options before
// the socket starts accepting.
func (a *AcceptorInterface) CreateSocket(addr *net.TCPAddr, sockType SockType) (iohandle.Handle, error) {
	domain := domainAndV6Only(addr)
	base, err := iohandle.NewSocket(domain, sockType.raw(), a.V6Only)
	if err != nil {
		return nil, fmt.Errorf("socketiface: acceptor create socket: %w", err)
	}
	if err := base.EnableReuseAddrAndBind(addr); err != nil {
		base.Close()
		return nil, fmt.Errorf("socketiface: acceptor bind: %w", err)
	}
	return iohandle.NewAcceptorHandle(base), nil
}

// Listen arms the socket to accept connections. backlog falls back to
// a.Backlog (or 128) when 0.
func (a *AcceptorInterface) Listen(h iohandle.Handle, backlog int) error {
	ah, ok := h.(*iohandle.AcceptorHandle)
	if !ok {
		return fmt.Errorf("socketiface: Listen requires an acceptor handle, got %T", h)
	}
	if backlog == 0 {
		backlog = a.Backlog
	}
	if backlog == 0 {
		backlog = 128
	}
	return ah.Listen(backlog)
}
