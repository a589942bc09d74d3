package iohandle

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// standardHandle is the base implementation: a non-blocking kernel fd with
// no custodial behavior at all. close(2) is a real close(2). Custodial
// handles hold one of these rather than extending it (composition over
// inheritance, per ).
type standardHandle struct {
	fd int32 // -1 once genuinely closed

	sockType int
	domain   int

	localAddr  net.Addr
	remoteAddr net.Addr

	eventMu  sync.Mutex
	eventCB  func(FileEvent)
	eventStop chan struct{}
}

// NewSocket performs the Addressed socket call from : creates
// the fd with SOCK_NONBLOCK set, the requested stream/dgram type, and
// IPV6_V6ONLY applied when domain is AF_INET6. It does not bind or connect.
func NewSocket(domain, sockType int, v6Only bool) (*standardHandle, error) {
	fd, err := unix.Socket(domain, sockType|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("iohandle: socket: %w", err)
	}
	if domain == unix.AF_INET6 {
		v6OnlyInt := 0
		if v6Only {
			v6OnlyInt = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6OnlyInt); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("iohandle: setsockopt IPV6_V6ONLY: %w", err)
		}
	}
	return &standardHandle{fd: int32(fd), sockType: sockType, domain: domain}, nil
}

// wrapFd builds a standardHandle around an fd this package already owns
// (e.g. the result of accept4 or dup), skipping socket(2) entirely.
func wrapFd(fd int, domain, sockType int) *standardHandle {
	return &standardHandle{fd: int32(fd), sockType: sockType, domain: domain}
}

func (h *standardHandle) Fd() int { return int(atomic.LoadInt32(&h.fd)) }

func (h *standardHandle) IsOpen() bool { return atomic.LoadInt32(&h.fd) >= 0 }

// EnableReuseAddrAndBind implements the acceptor-only addressed overload:
// SO_REUSEADDR followed by bind().
func (h *standardHandle) EnableReuseAddrAndBind(addr *net.TCPAddr) error {
	fd := h.Fd()
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("iohandle: setsockopt SO_REUSEADDR: %w", err)
	}
	sa, err := tcpAddrToSockaddr(h.domain, addr)
	if err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("iohandle: bind: %w", err)
	}
	h.localAddr = addr
	return nil
}

func (h *standardHandle) Listen(backlog int) error {
	if err := unix.Listen(h.Fd(), backlog); err != nil {
		return fmt.Errorf("iohandle: listen: %w", err)
	}
	return nil
}

func (h *standardHandle) Connect(addr *net.TCPAddr) error {
	sa, err := tcpAddrToSockaddr(h.domain, addr)
	if err != nil {
		return err
	}
	fd := h.Fd()
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		return fmt.Errorf("iohandle: connect: %w", err)
	}
	if err == unix.EINPROGRESS {
		if werr := h.waitWritable(); werr != nil {
			return werr
		}
		if serr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); gerr == nil && serr != 0 {
			return fmt.Errorf("iohandle: connect: %w", unix.Errno(serr))
		}
	}
	h.remoteAddr = addr
	if lsa, lerr := unix.Getsockname(fd); lerr == nil {
		if tcp, aerr := sockaddrToTCPAddr(lsa); aerr == nil {
			h.localAddr = tcp
		}
	}
	return nil
}

func (h *standardHandle) acceptRaw() (int, unix.Sockaddr, error) {
	fd := h.Fd()
	for {
		childFd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK)
		if err == unix.EAGAIN {
			if werr := h.waitReadable(); werr != nil {
				return -1, nil, werr
			}
			continue
		}
		if err != nil {
			return -1, nil, fmt.Errorf("iohandle: accept4: %w", err)
		}
		return childFd, sa, nil
	}
}

// waitReadable/waitWritable stand in for the event dispatcher collaborator
// when a caller wants classic blocking semantics (e.g. net.Conn
// Read/Write on a custodial handle used directly as an http.Server
// connection). Real readiness-callback delivery goes through
// RegisterFileEvent instead.
func (h *standardHandle) waitReadable() error { return h.poll(unix.POLLIN) }
func (h *standardHandle) waitWritable() error { return h.poll(unix.POLLOUT) }

func (h *standardHandle) poll(events int16) error {
	fd := h.Fd()
	if fd < 0 {
		return fmt.Errorf("iohandle: poll on closed handle")
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("iohandle: poll: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}

// Read satisfies io.Reader by delegating to Recv, so any custodial remap a
// wrapping handle applies to Recv also applies here. A genuine zero-byte,
// nil-error result (peer closed, no remap in play) is translated to
// io.EOF per the io.Reader/net.Conn contract.
func (h *standardHandle) Read(p []byte) (int, error) {
	n, err := h.Recv(p, 0)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func (h *standardHandle) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(h.Fd(), p[written:])
		if err == unix.EAGAIN {
			if werr := h.waitWritable(); werr != nil {
				return written, werr
			}
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (h *standardHandle) Recv(buf []byte, flags int) (int, error) {
	for {
		n, _, err := unix.Recvfrom(h.Fd(), buf, flags)
		if err == unix.EAGAIN {
			if flags&unix.MSG_DONTWAIT != 0 {
				return 0, unix.EAGAIN
			}
			if werr := h.waitReadable(); werr != nil {
				return 0, werr
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (h *standardHandle) Send(buf []byte, flags int) (int, error) {
	n, err := unix.Sendto(h.Fd(), buf, flags, nil)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close is the real, non-custodial close(2). A custodial handle's own Close
// never reaches it; only its Release does (and a socket interface that
// fails to bind a not-yet-wrapped handle).
func (h *standardHandle) Close() error {
	h.ResetFileEvent()
	fd := atomic.SwapInt32(&h.fd, -1)
	if fd < 0 {
		return nil
	}
	return unix.Close(int(fd))
}

// Duplicate performs dup(2), yielding a standardHandle over an independent
// kernel reference to the same open file description.
func (h *standardHandle) Duplicate() (Handle, error) {
	newFd, err := unix.Dup(h.Fd())
	if err != nil {
		return nil, fmt.Errorf("iohandle: dup: %w", err)
	}
	if err := unix.SetNonblock(newFd, true); err != nil {
		unix.Close(newFd)
		return nil, fmt.Errorf("iohandle: dup setnonblock: %w", err)
	}
	dup := wrapFd(newFd, h.domain, h.sockType)
	dup.localAddr = h.localAddr
	dup.remoteAddr = h.remoteAddr
	return dup, nil
}

func (h *standardHandle) LocalAddr() net.Addr  { return h.localAddr }
func (h *standardHandle) RemoteAddr() net.Addr { return h.remoteAddr }

// Fstat reports whether the wrapped fd still refers to a valid kernel
// object. Used directly by tests verifying the custodial-close idempotence
// property.
func (h *standardHandle) Fstat() error {
	fd := h.Fd()
	if fd < 0 {
		return fmt.Errorf("iohandle: fd already released")
	}
	var stat unix.Stat_t
	return unix.Fstat(int(fd), &stat)
}

func (h *standardHandle) RegisterFileEvent(cb func(FileEvent)) error {
	h.ResetFileEvent()
	h.eventMu.Lock()
	h.eventCB = cb
	stop := make(chan struct{})
	h.eventStop = stop
	h.eventMu.Unlock()

	go func() {
		fd := h.Fd()
		if fd < 0 {
			return
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			select {
			case <-stop:
				return
			default:
			}
			n, err := unix.Poll(fds, 250)
			if err != nil || n == 0 {
				continue
			}
			var ev FileEvent
			if fds[0].Revents&unix.POLLIN != 0 {
				ev |= EventReadable
			}
			if fds[0].Revents&unix.POLLOUT != 0 {
				ev |= EventWritable
			}
			if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
				ev |= EventClosed
			}
			if ev == 0 {
				continue
			}
			h.eventMu.Lock()
			active := h.eventCB
			h.eventMu.Unlock()
			if active != nil {
				active(ev)
			}
		}
	}()
	return nil
}

func (h *standardHandle) ResetFileEvent() {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	if h.eventStop != nil {
		close(h.eventStop)
		h.eventStop = nil
	}
	h.eventCB = nil
}

// net.Conn deadline methods: the reverse-tunnel core never sets deadlines
// on a parked socket (— "There are no deadlines on pool
// operations"). They're implemented as no-ops purely so Handle satisfies
// net.Conn for callers (e.g. http.Server) that expect it; the poll(-1) loops
// above ignore them.
func (h *standardHandle) SetDeadline(t time.Time) error      { return nil }
func (h *standardHandle) SetReadDeadline(t time.Time) error  { return nil }
func (h *standardHandle) SetWriteDeadline(t time.Time) error { return nil }
