package handshake

import (
	"bytes"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/revtun/internal/pool"
	"github.com/relaymesh/revtun/internal/socketiface"
	"github.com/relaymesh/revtun/internal/wire"
)

type fakePool struct {
	mu      sync.Mutex
	added   []*pool.ParkedSocket
	nodeID  string
	cluster string
}

func (f *fakePool) AddConnectionSocket(nodeID, clusterID string, socket *pool.ParkedSocket, pingInterval time.Duration, rebalanced bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, socket)
	f.nodeID = nodeID
	f.cluster = clusterID
}

func (f *fakePool) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

func startServer(t *testing.T, fp *fakePool) (*socketiface.Listener, func()) {
	t.Helper()
	iface := &socketiface.AcceptorInterface{Backlog: 8}
	ln, err := socketiface.NewListener(iface, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, 0)
	if err != nil {
		t.Fatalf("listener: %v", err)
	}
	filter := New(fp, 0, nil)
	mux := http.NewServeMux()
	filter.Register(mux)
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	return ln, func() { srv.Close() }
}

// TestHandshakeHappyPath covers the happy path: a well-formed handshake is
// accepted and parks a socket under the requested node id.
func TestHandshakeHappyPath(t *testing.T) {
	fp := &fakePool{}
	ln, stop := startServer(t, fp)
	defer stop()

	body, _ := wire.Encode(&wire.Request{NodeUUID: "N1", ClusterUUID: "C1", TenantUUID: "T1"})
	resp, err := http.Post("http://"+ln.Addr().String()+wire.HandshakePath, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if fp.count() != 1 {
		t.Fatalf("expected one parked socket, got %d", fp.count())
	}
	if fp.nodeID != "N1" || fp.cluster != "C1" {
		t.Fatalf("unexpected pool insertion keys: node=%s cluster=%s", fp.nodeID, fp.cluster)
	}
}

// TestHandshakeRejectsMalformedBody covers a non-JSON request body.
func TestHandshakeRejectsMalformedBody(t *testing.T) {
	fp := &fakePool{}
	ln, stop := startServer(t, fp)
	defer stop()

	resp, err := http.Post("http://"+ln.Addr().String()+wire.HandshakePath, "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if fp.count() != 0 {
		t.Fatalf("expected no pool insertion on malformed body, got %d", fp.count())
	}
}

// TestHandshakeRejectsEmptyNodeUUID covers the boundary behavior: empty
// node_uuid after parse is rejected even though the JSON itself is valid.
func TestHandshakeRejectsEmptyNodeUUID(t *testing.T) {
	fp := &fakePool{}
	ln, stop := startServer(t, fp)
	defer stop()

	body, _ := wire.Encode(&wire.Request{NodeUUID: "", ClusterUUID: "C1"})
	resp, err := http.Post("http://"+ln.Addr().String()+wire.HandshakePath, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty node_uuid, got %d", resp.StatusCode)
	}
	if fp.count() != 0 {
		t.Fatalf("expected no pool insertion, got %d", fp.count())
	}
}

// TestHandshakePassesThroughOtherPaths verifies the filter is transparent
// to requests on any other path.
func TestHandshakePassesThroughOtherPaths(t *testing.T) {
	fp := &fakePool{}
	iface := &socketiface.AcceptorInterface{Backlog: 8}
	ln, err := socketiface.NewListener(iface, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, 0)
	if err != nil {
		t.Fatalf("listener: %v", err)
	}
	defer ln.Close()

	filter := New(fp, 0, nil)
	mux := http.NewServeMux()
	filter.Register(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected pass-through 200, got %d", resp.StatusCode)
	}
	if fp.count() != 0 {
		t.Fatalf("expected no pool insertion for unrelated path")
	}
}
