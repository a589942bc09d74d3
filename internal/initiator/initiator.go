// Package initiator implements the initiator-side client connection: dials
// the acceptor, performs the handshake, and leaves the underlying FD alive
// afterward so the acceptor can reuse it as an upstream socket.
package initiator

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"

	"github.com/op/go-logging"

	"github.com/relaymesh/revtun/internal/iohandle"
	"github.com/relaymesh/revtun/internal/socketiface"
	"github.com/relaymesh/revtun/internal/wire"
)

// ClientConnection is the initiator-side client connection: its Close is a
// no-op (logging only) so the kernel FD stays alive for the acceptor to
// register anew. markedForClosure records that the caller considers this
// connection logically done, without tearing anything down.
type ClientConnection struct {
	handle *iohandle.InitiatorHandle

	markedForClosure bool
	log              *logging.Logger
}

// Dial creates an initiator socket, connects it to addr, and wraps it in a
// ClientConnection. The caller performs the handshake via Handshake.
func Dial(addr *net.TCPAddr, log *logging.Logger) (*ClientConnection, error) {
	if log == nil {
		log = logging.MustGetLogger("revtun.initiator")
	}
	iface := &socketiface.InitiatorInterface{}
	h, err := iface.CreateSocket(addr, socketiface.Stream)
	if err != nil {
		return nil, fmt.Errorf("initiator: create socket: %w", err)
	}
	ih := h.(*iohandle.InitiatorHandle)
	if err := ih.Connect(addr); err != nil {
		ih.Release()
		return nil, fmt.Errorf("initiator: connect to %s: %w", addr, err)
	}
	return &ClientConnection{handle: ih, log: log}, nil
}

// Handshake sends the handshake request over the dialed connection and
// returns the parsed response. It does not close or release anything: the
// same FD must survive past this call so the acceptor can reuse it.
func (c *ClientConnection) Handshake(req *wire.Request) (*wire.Response, error) {
	body, err := wire.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("initiator: encode handshake request: %w", err)
	}
	httpRequest, err := http.NewRequest(http.MethodPost, wire.HandshakePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("initiator: build handshake request: %w", err)
	}
	httpRequest.ContentLength = int64(len(body))

	if err := httpRequest.Write(c.handle); err != nil {
		return nil, fmt.Errorf("initiator: write handshake request: %w", err)
	}

	reader := bufio.NewReader(c.handle)
	httpResponse, err := http.ReadResponse(reader, httpRequest)
	if err != nil {
		return nil, fmt.Errorf("initiator: read handshake response: %w", err)
	}
	defer httpResponse.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(httpResponse.Body); err != nil {
		return nil, fmt.Errorf("initiator: read handshake response body: %w", err)
	}

	resp, err := wire.DecodeResponse(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close marks the connection closed for the caller's bookkeeping but
// performs no teardown — the kernel FD must survive the initiator-side
// handshake.
func (c *ClientConnection) Close() error {
	c.markedForClosure = true
	c.log.Debugf("initiator: client connection marked for closure (fd kept alive)")
	return nil
}

// MarkedForClosure reports whether Close has been called.
func (c *ClientConnection) MarkedForClosure() bool { return c.markedForClosure }

// Release performs the real teardown. revtuninit calls it only when a dial's
// handshake fails or is rejected, never after a successful handshake.
func (c *ClientConnection) Release() error { return c.handle.Release() }

// Fd exposes the underlying kernel FD, e.g. for diagnostics or for handing
// off to the reverse-proxied RoundTripper.
func (c *ClientConnection) Fd() int { return c.handle.Fd() }
