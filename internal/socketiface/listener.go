package socketiface

import (
	"net"

	"github.com/relaymesh/revtun/internal/iohandle"
)

// Listener adapts an AcceptorHandle to net.Listener, so the handshake
// filter can sit behind a standard http.Server and still reach the
// custodial handle through http.Hijacker (step 3-4 need the
// underlying socket, not just an io.ReadWriteCloser).
type Listener struct {
	handle *iohandle.AcceptorHandle
}

// NewListener builds a Listener bound to addr, ready to accept once backlog
// is armed via the embedded AcceptorInterface semantics. iface.Listen must
// be called (directly, or via NewListener's own call below) before Accept.
func NewListener(iface *AcceptorInterface, addr *net.TCPAddr, backlog int) (*Listener, error) {
	h, err := iface.CreateSocket(addr, Stream)
	if err != nil {
		return nil, err
	}
	if err := iface.Listen(h, backlog); err != nil {
		h.(*iohandle.AcceptorHandle).Release()
		return nil, err
	}
	return &Listener{handle: h.(*iohandle.AcceptorHandle)}, nil
}

func (l *Listener) Accept() (net.Conn, error) {
	child, err := l.handle.Accept()
	if err != nil {
		return nil, err
	}
	return child.(*iohandle.AcceptorHandle), nil
}

func (l *Listener) Close() error   { return l.handle.Release() }
func (l *Listener) Addr() net.Addr { return l.handle.LocalAddr() }
