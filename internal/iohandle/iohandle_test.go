package iohandle

import (
	"io"
	"testing"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (*standardHandle, *standardHandle) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}
	return wrapFd(fds[0], unix.AF_UNIX, unix.SOCK_STREAM), wrapFd(fds[1], unix.AF_UNIX, unix.SOCK_STREAM)
}

// TestCustodialCloseIdempotent verifies that N consecutive close calls on a
// custodial handle leave the wrapped fd valid.
func TestCustodialCloseIdempotent(t *testing.T) {
	base, peer := socketPair(t)
	defer peer.Close()

	h := NewAcceptorHandle(base)
	for i := 0; i < 5; i++ {
		if err := h.Close(); err != nil {
			t.Fatalf("close #%d: %v", i, err)
		}
	}
	if err := h.Fstat(); err != nil {
		t.Fatalf("fstat after repeated close: %v", err)
	}
	if h.IsOpen() {
		t.Fatalf("expected IsOpen false after logical close")
	}
	// Real teardown must still work.
	if err := h.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := h.Fstat(); err == nil {
		t.Fatalf("expected fstat to fail after Release")
	}
}

// TestInitiatorHandleStaysOpenAfterClose verifies : IsOpen keeps
// reporting true on the initiator variant after logical close.
func TestInitiatorHandleStaysOpenAfterClose(t *testing.T) {
	base, peer := socketPair(t)
	defer peer.Close()

	h := NewInitiatorHandle(base)
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !h.IsOpen() {
		t.Fatalf("expected IsOpen true on initiator handle after logical close")
	}
	if !h.LogicalClosed() {
		t.Fatalf("expected LogicalClosed true")
	}
	if err := h.Fstat(); err != nil {
		t.Fatalf("fstat: %v", err)
	}
	h.Release()
}

// TestDuplicateIndependentFd verifies : duplication creates an
// independent kernel reference; closing one side leaves the other valid.
func TestDuplicateIndependentFd(t *testing.T) {
	base, peer := socketPair(t)
	defer peer.Close()

	original := NewAcceptorHandle(base)
	dupIface, err := original.Duplicate()
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	dup := dupIface.(*AcceptorHandle)

	if err := original.Release(); err != nil {
		t.Fatalf("release original: %v", err)
	}
	if err := dup.Fstat(); err != nil {
		t.Fatalf("duplicate fd should still be valid: %v", err)
	}
	dup.Release()
}

// TestAcceptorRecvRemapWhileDuplicateLive verifies that the zero-byte remap
// on a duplicate only applies while the original it was duplicated from
// hasn't logically closed.
func TestAcceptorRecvRemapWhileDuplicateLive(t *testing.T) {
	base, peer := socketPair(t)

	original := NewAcceptorHandle(base)
	dupIface, err := original.Duplicate()
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	dup := dupIface.(*AcceptorHandle)
	defer dup.Release()

	// Simulate the peer sending a FIN.
	peer.Close()

	buf := make([]byte, 16)
	if _, err := dup.Recv(buf, 0); err != errAgainZeroRecv {
		t.Fatalf("expected remapped EAGAIN while original is live, got %v", err)
	}

	// Once the original logically closes (handshake filter's step 7), the
	// remap must stop masking the genuine peer close.
	original.Close()
	n, err := dup.Recv(buf, 0)
	if err != nil {
		t.Fatalf("expected clean zero-byte read after original retired, got err=%v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes, got %d", n)
	}
}

// TestAcceptorReadRemapsWhileDuplicateLive verifies that Read, not just
// Recv, goes through the duplicate's zero-byte remap: a consumer using the
// plain io.Reader path (bufio, http.Server) must see the same EAGAIN-like
// behavior Recv gives while the original handle is still live.
func TestAcceptorReadRemapsWhileDuplicateLive(t *testing.T) {
	base, peer := socketPair(t)

	original := NewAcceptorHandle(base)
	dupIface, err := original.Duplicate()
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	dup := dupIface.(*AcceptorHandle)
	defer dup.Release()

	peer.Close()

	buf := make([]byte, 16)
	if _, err := dup.Read(buf); err != errAgainZeroRecv {
		t.Fatalf("expected remapped error from Read while original is live, got %v", err)
	}

	original.Close()
	n, err := dup.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF from Read after original retired, got n=%d err=%v", n, err)
	}
}

// TestStandardHandleReadTranslatesZeroByteToEOF verifies the base handle's
// Read, used directly by code with no custodial wrapper, surfaces a genuine
// peer close as io.EOF rather than passing (0, nil) straight through.
func TestStandardHandleReadTranslatesZeroByteToEOF(t *testing.T) {
	base, peer := socketPair(t)
	defer base.Close()

	peer.Close()

	buf := make([]byte, 16)
	n, err := base.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got n=%d err=%v", n, err)
	}
}
