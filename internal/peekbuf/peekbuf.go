// Package peekbuf implements a small listener peek buffer: filters consult
// it before dispatch, backed by a non-consuming MSG_PEEK recv.
package peekbuf

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/relaymesh/revtun/internal/iohandle"
)

// Result is the outcome of a single PeekFromSocket call.
type Result int

const (
	// Again means recv returned EAGAIN: no data yet, buffer restored to its
	// prior state.
	Again Result = iota
	// RemoteClose means recv returned 0 bytes: the peer closed its side.
	RemoteClose
	// Error means recv failed with something other than EAGAIN or a clean
	// close.
	Error
	// Done means recv returned at least one byte; Buffer.Len() bytes are
	// available to read.
	Done
)

// Buffer peeks socket data without consuming it, preserving data across
// read-ready events until the caller explicitly Drains it.
type Buffer struct {
	data []byte
	size int

	lastGoodLen int // base pointer restored to this length on Again
}

// New builds a Buffer. size is the peek capacity; if the first filter
// advertises maxReadBytes()==0, pass 1 rather than 0 — a zero-sized
// registered read spuriously signals close on some platforms when data
// does arrive.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{data: make([]byte, size), size: size}
}

// PeekFromSocket resets the base pointer to the buffer start and peeks up
// to Buffer's capacity from h using MSG_PEEK.
func (b *Buffer) PeekFromSocket(h iohandle.Handle) Result {
	n, err := h.Recv(b.data[:b.size], unix.MSG_PEEK)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || isTemporary(err) {
			b.data = b.data[:b.lastGoodLen]
			return Again
		}
		return Error
	}
	if n == 0 {
		return RemoteClose
	}
	b.data = b.data[:n]
	b.lastGoodLen = n
	return Done
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	t, ok := err.(temporary)
	return ok && t.Temporary()
}

// Bytes returns the currently peeked data. Valid only after PeekFromSocket
// returns Done.
func (b *Buffer) Bytes() []byte { return b.data }

// Len reports how many bytes are currently peeked.
func (b *Buffer) Len() int { return len(b.data) }

// Drain performs a non-peek recv in a loop until length bytes have been
// consumed from h, returning false on any error (including EAGAIN, because
// PeekFromSocket already established that data was available).
func Drain(h iohandle.Handle, length int) bool {
	remaining := length
	for remaining > 0 {
		chunk := make([]byte, remaining)
		n, err := h.Recv(chunk, 0)
		if err != nil {
			return false
		}
		if n == 0 {
			return false
		}
		remaining -= n
	}
	return true
}
