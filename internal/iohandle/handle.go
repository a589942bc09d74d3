// Package iohandle implements a custodial I/O handle capability set: a
// small interface wrapping a kernel file descriptor, with two custodial
// implementations — acceptor and initiator — that suppress close and
// destructor-driven teardown so the wrapped fd can be handed off across a
// connection-lifecycle boundary that would otherwise close it.
//
// Dynamic dispatch over handle implementations is expressed via
// composition: AcceptorHandle and InitiatorHandle each hold a
// *standardHandle rather than extending it, and override only the methods
// that need different semantics.
package iohandle

import (
	"net"
)

// Handle is the capability set every socket wrapper in this package
// implements. It is deliberately small: net.Conn (read/write/close) plus
// open/recv/send/duplicate/fd and file-event registration. Accept lives on
// AcceptingHandle; binding is done by the socket interfaces, not through
// Handle.
type Handle interface {
	net.Conn

	// Fd returns the wrapped kernel file descriptor. -1 once the fd has
	// really been closed: by Close on a standardHandle, or by Release on a
	// custodial handle (never by a custodial handle's Close).
	Fd() int

	// IsOpen reports whether this handle still considers itself usable.
	// For the acceptor custodial handle this goes false on logical close;
	// for the initiator custodial handle it stays true even after logical
	// close, so the surrounding client-connection machinery keeps treating
	// the socket as live for the reversed direction.
	IsOpen() bool

	// Recv performs a raw recv with the given flags (e.g. MSG_PEEK),
	// bypassing net.Conn's buffering. Used by the peek buffer (C8) and by
	// the acceptor custodial handle's zero-byte remap.
	Recv(buf []byte, flags int) (n int, err error)

	// Send performs a raw send with the given flags.
	Send(buf []byte, flags int) (n int, err error)

	// Duplicate returns a new Handle backed by an independent kernel
	// reference to the same socket (dup(2)). The original handle keeps its
	// own fd; closing one side never invalidates the other.
	Duplicate() (Handle, error)

	// ResetFileEvent releases any registered readiness callback without
	// touching the underlying fd. Safe to call on a handle with no
	// registration.
	ResetFileEvent()

	// RegisterFileEvent arms cb to run when the fd becomes read-ready.
	// Acceptor custodial handles strip the "closed" readiness bit from what
	// they actually watch for (see AcceptorHandle.RegisterFileEvent).
	RegisterFileEvent(cb func(FileEvent)) error
}

// FileEvent is the readiness bitmask a registered callback observes.
// Mirrors the event-dispatcher contract lists as a collaborator
// (consumed here, not implemented — these bits are the shape of what that
// collaborator would report).
type FileEvent uint8

const (
	EventReadable FileEvent = 1 << iota
	EventWritable
	EventClosed
)

// AcceptingHandle is implemented by handles that can accept new connections
// (the acceptor socket interface's listening handle).
type AcceptingHandle interface {
	Handle
	Accept() (Handle, error)
}

