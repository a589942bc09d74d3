package iohandle

import (
	"io"
	"net"
	"sync/atomic"
	"time"
)

// InitiatorHandle is the custodial handle used on the initiator side (C1,
// initiator variant). Unlike AcceptorHandle, IsOpen stays true after logical
// close: the surrounding client-connection machinery (internal/initiator)
// needs to keep believing the socket is usable so the same fd survives past
// the handshake and gets reused for the reversed direction.
type InitiatorHandle struct {
	base *standardHandle

	closed int32
}

func NewInitiatorHandle(base *standardHandle) *InitiatorHandle {
	return &InitiatorHandle{base: base}
}

func (h *InitiatorHandle) Fd() int { return h.base.Fd() }

// IsOpen always reports the fd's raw validity, never the logical-close
// flag: "true on the initiator variant."
func (h *InitiatorHandle) IsOpen() bool { return h.base.IsOpen() }

// Read routes through Recv rather than delegating straight to the base
// handle, so any remap Recv applies stays in force on this path too, and
// translates a genuine zero-byte, nil-error result to io.EOF.
func (h *InitiatorHandle) Read(p []byte) (int, error) {
	n, err := h.Recv(p, 0)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func (h *InitiatorHandle) Write(p []byte) (int, error)                { return h.base.Write(p) }
func (h *InitiatorHandle) Recv(buf []byte, flags int) (int, error)     { return h.base.Recv(buf, flags) }
func (h *InitiatorHandle) Send(buf []byte, flags int) (int, error)     { return h.base.Send(buf, flags) }
func (h *InitiatorHandle) LocalAddr() net.Addr                         { return h.base.LocalAddr() }
func (h *InitiatorHandle) RemoteAddr() net.Addr                        { return h.base.RemoteAddr() }
func (h *InitiatorHandle) SetDeadline(t time.Time) error               { return h.base.SetDeadline(t) }
func (h *InitiatorHandle) SetReadDeadline(t time.Time) error           { return h.base.SetReadDeadline(t) }
func (h *InitiatorHandle) SetWriteDeadline(t time.Time) error          { return h.base.SetWriteDeadline(t) }
func (h *InitiatorHandle) ResetFileEvent()                             { h.base.ResetFileEvent() }
func (h *InitiatorHandle) RegisterFileEvent(cb func(FileEvent)) error  { return h.base.RegisterFileEvent(cb) }

// Close records the logical close request but never issues close(2) —
// LogicalClosed reports whether it has been called, for
// callers that need to distinguish "looks open" from "actually still in
// active use."
func (h *InitiatorHandle) Close() error {
	atomic.StoreInt32(&h.closed, 1)
	return nil
}

func (h *InitiatorHandle) LogicalClosed() bool { return atomic.LoadInt32(&h.closed) == 1 }

// Release performs the real teardown.
func (h *InitiatorHandle) Release() error {
	h.ResetFileEvent()
	return h.base.Close()
}

func (h *InitiatorHandle) Duplicate() (Handle, error) {
	dupHandle, err := h.base.Duplicate()
	if err != nil {
		return nil, err
	}
	return NewInitiatorHandle(dupHandle.(*standardHandle)), nil
}

// Connect dials out over the wrapped socket (the initiator data
// flow: "C3 initiator socket() → kernel FD → C1 custodial handle → C7 client
// connection → handshake → socket reused").
func (h *InitiatorHandle) Connect(addr *net.TCPAddr) error { return h.base.Connect(addr) }

func (h *InitiatorHandle) Fstat() error { return h.base.Fstat() }
