package socketiface

import (
	"fmt"
	"net"

	"github.com/relaymesh/revtun/internal/address"
	"github.com/relaymesh/revtun/internal/iohandle"
)

// InitiatorInterface is the initiator_client_socket_interface: it creates
// outbound sockets wrapped in the initiator custodial handle that survives
// logical close.
type InitiatorInterface struct {
	V6Only bool
}

func (i *InitiatorInterface) Name() string { return address.Initiator.SocketInterfaceName() }

func (i *InitiatorInterface) CreateSocketNoAddress(sockType SockType) (iohandle.Handle, error) {
	return nil, ErrAddressRequired
}

// CreateSocket creates the outbound socket but does not connect it — that
// happens via internal/initiator, which needs the custodial handle first so
// it can observe connect() progress through the same no-close wrapper the
// handshake will eventually rely on.
func (i *InitiatorInterface) CreateSocket(addr *net.TCPAddr, sockType SockType) (iohandle.Handle, error) {
	domain := domainAndV6Only(addr)
	base, err := iohandle.NewSocket(domain, sockType.raw(), i.V6Only)
	if err != nil {
		return nil, fmt.Errorf("socketiface: initiator create socket: %w", err)
	}
	return iohandle.NewInitiatorHandle(base), nil
}
