// Package socketiface implements the initiator and acceptor socket
// interfaces: platform socket creation wrapped in custodial handles.
package socketiface

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/relaymesh/revtun/internal/iohandle"
)

// SockType mirrors the stream/dgram choice a caller can request.
type SockType int

const (
	Stream SockType = iota
	Datagram
)

func (t SockType) raw() int {
	if t == Datagram {
		return unix.SOCK_DGRAM
	}
	return unix.SOCK_STREAM
}

// ErrAddressRequired is returned by the address-less overload: reverse
// connection sockets always require a named address.
var ErrAddressRequired = fmt.Errorf("socketiface: reverse-connection sockets require an address")

// Interface is the platform socket-creation contract both the initiator and
// acceptor variants implement.
type Interface interface {
	Name() string
	// CreateSocket is the Addressed overload from
	CreateSocket(addr *net.TCPAddr, sockType SockType) (iohandle.Handle, error)
	// CreateSocketNoAddress is the address-less overload, which always
	// fails for this domain.
	CreateSocketNoAddress(sockType SockType) (iohandle.Handle, error)
}

// domainAndV6Only applies ipFamilySupported: only IPv4 and
// IPv6 addresses are recognized. Everything else — including the
// unix-domain and proxy-internal address types calls out by name —
// is a fatal precondition violation, not a recoverable error, because a
// caller handing this package such an address has already broken an
// upstream contract.
func domainAndV6Only(addr *net.TCPAddr) int {
	domain, err := iohandle.Domain(addr)
	if err != nil {
		panic(fmt.Sprintf("socketiface: ipFamilySupported precondition violated: %v", err))
	}
	return domain
}
