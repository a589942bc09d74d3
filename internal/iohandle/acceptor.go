package iohandle

import (
	"io"
	"net"
	"sync/atomic"
	"time"
)

// dupRef is shared between an AcceptorHandle and the duplicate produced by
// its Duplicate call. The zero-byte -> EAGAIN remap on a duplicate applies
// only between duplication and the original handle's retirement, not
// unconditionally. retired flips once the original's logical Close() runs.
type dupRef struct {
	retired int32
}

func (d *dupRef) retire()     { atomic.StoreInt32(&d.retired, 1) }
func (d *dupRef) isRetired() bool { return d == nil || atomic.LoadInt32(&d.retired) == 1 }

// AcceptorHandle is the custodial handle used on the acceptor side (C1,
// acceptor variant). Close never issues close(2); IsOpen goes false once
// logical close has been requested so higher layers stop using it.
type AcceptorHandle struct {
	base *standardHandle

	closed int32 // atomic bool: logical close requested

	// dup is non-nil when this handle is itself a duplicate produced by
	// another AcceptorHandle's Duplicate(); it tracks whether that original
	// has retired, gating the zero-byte remap.
	dup *dupRef

	// producedDup is set when this handle has handed out a duplicate of
	// itself, so its own logical Close can mark that duplicate's dupRef
	// retired.
	producedDup *dupRef
}

// NewAcceptorHandle wraps an already-created standardHandle (typically the
// result of NewSocket or of the listening socket's Accept) in custodial
// semantics.
func NewAcceptorHandle(base *standardHandle) *AcceptorHandle {
	return &AcceptorHandle{base: base}
}

func (h *AcceptorHandle) Fd() int { return h.base.Fd() }

// IsOpen reports false once logical close has run, regardless of whether
// the underlying fd is still valid: "is_open reports false
// on the acceptor variant... so higher layers stop using it."
func (h *AcceptorHandle) IsOpen() bool {
	return atomic.LoadInt32(&h.closed) == 0 && h.base.IsOpen()
}

// Read satisfies io.Reader by routing through Recv, so a duplicate handle's
// zero-byte remap applies uniformly whether a caller reads via Read (e.g.
// bufio/http.Server against the handle directly) or Recv. A zero-byte,
// nil-error result that isn't remapped is a genuine peer close and
// surfaces as io.EOF.
func (h *AcceptorHandle) Read(p []byte) (int, error) {
	n, err := h.Recv(p, 0)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func (h *AcceptorHandle) Write(p []byte) (int, error) { return h.base.Write(p) }

// Recv applies the conditional zero-byte remap described in dupRef's
// comment: only while this handle is a duplicate whose original has not
// yet retired.
func (h *AcceptorHandle) Recv(buf []byte, flags int) (int, error) {
	n, err := h.base.Recv(buf, flags)
	if err == nil && n == 0 && !h.dup.isRetired() {
		return 0, errAgainZeroRecv
	}
	return n, err
}

func (h *AcceptorHandle) Send(buf []byte, flags int) (int, error) {
	return h.base.Send(buf, flags)
}

func (h *AcceptorHandle) LocalAddr() net.Addr  { return h.base.LocalAddr() }
func (h *AcceptorHandle) RemoteAddr() net.Addr { return h.base.RemoteAddr() }

func (h *AcceptorHandle) SetDeadline(t time.Time) error      { return h.base.SetDeadline(t) }
func (h *AcceptorHandle) SetReadDeadline(t time.Time) error  { return h.base.SetReadDeadline(t) }
func (h *AcceptorHandle) SetWriteDeadline(t time.Time) error { return h.base.SetWriteDeadline(t) }

// Close records the logical-close request and retires any duplicate this
// handle produced (so that duplicate's remap stops masking a real peer
// close). It never calls close(2) —
func (h *AcceptorHandle) Close() error {
	atomic.StoreInt32(&h.closed, 1)
	h.ResetFileEvent()
	if h.producedDup != nil {
		h.producedDup.retire()
	}
	return nil
}

// Release performs the real teardown: close(2) on the wrapped fd. Only the
// upstream socket pool (on eviction) or process shutdown may call this —
// never a connection teardown path.
func (h *AcceptorHandle) Release() error {
	h.ResetFileEvent()
	return h.base.Close()
}

func (h *AcceptorHandle) Duplicate() (Handle, error) {
	dupHandle, err := h.base.Duplicate()
	if err != nil {
		return nil, err
	}
	ref := &dupRef{}
	h.producedDup = ref
	dup := &AcceptorHandle{base: dupHandle.(*standardHandle), dup: ref}
	dup.ResetFileEvent()
	return dup, nil
}

// RegisterFileEvent strips the Closed readiness bit from what it actually
// watches for, the initializeFileEvent override: "to avoid
// spurious close notifications on the duplicated FD."
func (h *AcceptorHandle) RegisterFileEvent(cb func(FileEvent)) error {
	return h.base.RegisterFileEvent(func(ev FileEvent) {
		cb(ev &^ EventClosed)
	})
}

func (h *AcceptorHandle) ResetFileEvent() { h.base.ResetFileEvent() }

// Accept performs the raw accept syscall and wraps the resulting child fd
// in another custodial acceptor handle, so accepted connections inherit the
// no-close property with no further intervention.
func (h *AcceptorHandle) Accept() (Handle, error) {
	childFd, sa, err := h.base.acceptRaw()
	if err != nil {
		return nil, err
	}
	child := wrapFd(childFd, h.base.domain, h.base.sockType)
	child.localAddr = h.base.localAddr
	if remote, aerr := sockaddrToTCPAddr(sa); aerr == nil {
		child.remoteAddr = remote
	}
	return NewAcceptorHandle(child), nil
}

// Fstat exposes the underlying fd validity check for tests: it confirms
// custodial close is idempotent and leaves the fd valid.
func (h *AcceptorHandle) Fstat() error { return h.base.Fstat() }

// Listen arms the listening socket to accept connections.
func (h *AcceptorHandle) Listen(backlog int) error { return h.base.Listen(backlog) }

var errAgainZeroRecv = &recvRemapError{}

type recvRemapError struct{}

func (*recvRemapError) Error() string { return "iohandle: recv would block (remapped from peer-close indication on a live duplicate)" }

func (*recvRemapError) Timeout() bool   { return true }
func (*recvRemapError) Temporary() bool { return true }
