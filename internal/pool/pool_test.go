package pool

import (
	"net"
	"testing"
	"time"

	"github.com/relaymesh/revtun/internal/iohandle"
	"github.com/relaymesh/revtun/internal/revlog"
)

func socketPair(t *testing.T) (iohandle.Handle, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	return &pipeHandle{Conn: local}, remote
}

// pipeHandle adapts a net.Conn to iohandle.Handle for tests that only
// exercise Send/Close/RegisterFileEvent, none of which need real FDs.
type pipeHandle struct {
	net.Conn
	released bool
}

func (p *pipeHandle) Fd() int                                  { return -1 }
func (p *pipeHandle) IsOpen() bool                              { return !p.released }
func (p *pipeHandle) Recv(buf []byte, flags int) (int, error)   { return p.Read(buf) }
func (p *pipeHandle) Send(buf []byte, flags int) (int, error)   { return p.Write(buf) }
func (p *pipeHandle) Duplicate() (iohandle.Handle, error)       { return p, nil }
func (p *pipeHandle) ResetFileEvent()                           {}
func (p *pipeHandle) RegisterFileEvent(cb func(iohandle.FileEvent)) error { return nil }
func (p *pipeHandle) Release() error {
	p.released = true
	return p.Conn.Close()
}

func newTestPool() *Pool {
	return NewPool(3, 16, revlog.Discard())
}

// TestTakeSocketForNodeReturnsAddedSocket verifies that for all
// identities I, addConnectionSocket(I, _, s, _, _) followed immediately by
// takeSocketForNode(I) with no interposed take returns s.
func TestTakeSocketForNodeReturnsAddedSocket(t *testing.T) {
	p := newTestPool()
	h, remote := socketPair(t)
	defer remote.Close()

	s := &ParkedSocket{Handle: h}
	p.AddConnectionSocket("N1", "C1", s, 0, false)

	got := p.TakeSocketForNode("N1")
	if got != s {
		t.Fatalf("expected the same socket back, got %+v", got)
	}

	if got := p.TakeSocketForNode("N1"); got != nil {
		t.Fatalf("expected no further socket, got %+v", got)
	}
}

// TestEvictClearsClusterIndex verifies that AddConnectionSocket followed by
// Evict(id) leaves the cluster index for c without id.
func TestEvictClearsClusterIndex(t *testing.T) {
	p := newTestPool()
	h, remote := socketPair(t)
	defer remote.Close()

	s := &ParkedSocket{Handle: h}
	p.AddConnectionSocket("N1", "C1", s, 0, false)

	if nodes := p.ClusterNodes("C1"); len(nodes) != 1 || nodes[0] != "N1" {
		t.Fatalf("expected N1 in cluster index, got %v", nodes)
	}

	p.Evict("N1")

	if nodes := p.ClusterNodes("C1"); len(nodes) != 0 {
		t.Fatalf("expected N1 removed from cluster index, got %v", nodes)
	}
}

func TestTakeSocketForClusterPicksLexicographicallySmallest(t *testing.T) {
	p := newTestPool()
	hB, remoteB := socketPair(t)
	hA, remoteA := socketPair(t)
	defer remoteB.Close()
	defer remoteA.Close()

	p.AddConnectionSocket("N-B", "C1", &ParkedSocket{Handle: hB}, 0, false)
	p.AddConnectionSocket("N-A", "C1", &ParkedSocket{Handle: hA}, 0, false)

	got := p.TakeSocketForCluster("C1")
	if got == nil || got.NodeID != "N-A" {
		t.Fatalf("expected tie-break to pick N-A, got %+v", got)
	}
}

func TestTakeSocketForNodeEmptyPoolReturnsNil(t *testing.T) {
	p := newTestPool()
	if got := p.TakeSocketForNode("missing"); got != nil {
		t.Fatalf("expected nil for unknown node, got %+v", got)
	}
}

func TestPingEvictsOnWriteFailure(t *testing.T) {
	p := newTestPool()
	h, remote := socketPair(t)
	remote.Close() // closing the peer makes the next Write fail

	s := &ParkedSocket{Handle: h}
	p.AddConnectionSocket("N1", "C1", s, time.Hour, false)

	p.Ping("N1")

	if depth := p.Depth("N1"); depth != 0 {
		t.Fatalf("expected failed socket evicted, depth=%d", depth)
	}
}
