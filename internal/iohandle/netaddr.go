package iohandle

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sockaddrToTCPAddr converts a unix.Sockaddr obtained from getsockname/
// getpeername into a *net.TCPAddr. Only AF_INET and AF_INET6 are supported;
// anything else indicates a caller handed this package an address family the
// reverse-tunnel core has no business touching (see ipFamilySupported).
func sockaddrToTCPAddr(sa unix.Sockaddr) (*net.TCPAddr, error) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, addr.Addr[:])
		return &net.TCPAddr{IP: ip, Port: addr.Port}, nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, addr.Addr[:])
		return &net.TCPAddr{IP: ip, Port: addr.Port, Zone: zoneFromIndex(addr.ZoneId)}, nil
	default:
		return nil, fmt.Errorf("iohandle: unsupported sockaddr type %T", sa)
	}
}

func zoneFromIndex(idx uint32) string {
	if idx == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(int(idx)); err == nil {
		return iface.Name
	}
	return ""
}

// tcpAddrToSockaddr converts a *net.TCPAddr into the unix.Sockaddr needed for
// bind/connect. domain must be unix.AF_INET or unix.AF_INET6.
func tcpAddrToSockaddr(domain int, addr *net.TCPAddr) (unix.Sockaddr, error) {
	switch domain {
	case unix.AF_INET:
		sa := &unix.SockaddrInet4{Port: addr.Port}
		ip4 := addr.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("iohandle: address %s is not IPv4", addr)
		}
		copy(sa.Addr[:], ip4)
		return sa, nil
	case unix.AF_INET6:
		sa := &unix.SockaddrInet6{Port: addr.Port}
		ip16 := addr.IP.To16()
		if ip16 == nil {
			return nil, fmt.Errorf("iohandle: address %s is not IPv6", addr)
		}
		copy(sa.Addr[:], ip16)
		if addr.Zone != "" {
			if iface, err := net.InterfaceByName(addr.Zone); err == nil {
				sa.ZoneId = uint32(iface.Index)
			}
		}
		return sa, nil
	default:
		return nil, fmt.Errorf("iohandle: unsupported address family %d", domain)
	}
}

// Domain returns unix.AF_INET or unix.AF_INET6 for a *net.TCPAddr, or an
// error if neither applies. This is ipFamilySupported from :
// only IPv4 and IPv6 are recognized, everything else (unix-domain sockets,
// proxy-internal address types) is rejected outright.
func Domain(addr *net.TCPAddr) (int, error) {
	if addr.IP == nil {
		return 0, fmt.Errorf("iohandle: address has no IP")
	}
	if addr.IP.To4() != nil && addr.IP.To16() == nil {
		return unix.AF_INET, nil
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		// Could be represented either way; prefer IPv4 when it round-trips.
		if addr.IP.Equal(ip4) {
			return unix.AF_INET, nil
		}
	}
	if addr.IP.To16() != nil {
		return unix.AF_INET6, nil
	}
	return 0, fmt.Errorf("iohandle: unsupported IP address %s", addr.IP)
}
