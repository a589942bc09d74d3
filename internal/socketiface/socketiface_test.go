package socketiface

import (
	"net"
	"testing"

	"github.com/relaymesh/revtun/internal/iohandle"
)

func TestAcceptorCreateSocketBindsAndAccepts(t *testing.T) {
	iface := &AcceptorInterface{Backlog: 8}
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	h, err := iface.CreateSocket(addr, Stream)
	if err != nil {
		t.Fatalf("create socket: %v", err)
	}
	ah := h.(*iohandle.AcceptorHandle)
	defer ah.Release()

	if err := iface.Listen(h, 0); err != nil {
		t.Fatalf("listen: %v", err)
	}

	bound := ah.LocalAddr().(*net.TCPAddr)
	if bound.Port == 0 {
		t.Fatalf("expected kernel-assigned port, got 0")
	}

	accepted := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", bound.String())
		if err == nil {
			conn.Close()
		}
		accepted <- err
	}()

	child, err := ah.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer child.(*iohandle.AcceptorHandle).Release()

	if err := <-accepted; err != nil {
		t.Fatalf("dial: %v", err)
	}
}

func TestAddressLessOverloadFails(t *testing.T) {
	iface := &AcceptorInterface{}
	if _, err := iface.CreateSocketNoAddress(Stream); err != ErrAddressRequired {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := Default()
	if _, ok := r.Lookup("envoy.bootstrap.reverse_tunnel.initiator_client_socket_interface"); !ok {
		t.Fatalf("expected initiator interface registered")
	}
	if _, ok := r.Lookup("envoy.bootstrap.reverse_tunnel.upstream_socket_interface.acceptor"); !ok {
		t.Fatalf("expected acceptor interface registered")
	}
}
