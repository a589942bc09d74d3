package main

import (
	"bufio"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaymesh/revtun/internal/iohandle"
	"github.com/relaymesh/revtun/internal/pool"
	"github.com/relaymesh/revtun/internal/revlog"
)

// pipeHandle adapts a net.Conn to iohandle.Handle for proxy round trips in
// tests, mirroring internal/proxyrt's own test helper.
type pipeHandle struct {
	net.Conn
}

func (p *pipeHandle) Fd() int                                             { return -1 }
func (p *pipeHandle) IsOpen() bool                                        { return true }
func (p *pipeHandle) Recv(buf []byte, flags int) (int, error)             { return p.Read(buf) }
func (p *pipeHandle) Send(buf []byte, flags int) (int, error)             { return p.Write(buf) }
func (p *pipeHandle) Duplicate() (iohandle.Handle, error)                 { return p, nil }
func (p *pipeHandle) ResetFileEvent()                                     {}
func (p *pipeHandle) RegisterFileEvent(cb func(iohandle.FileEvent)) error { return nil }

func newTestWorker(t *testing.T) *worker {
	t.Helper()
	cfg := defaultConfig()
	cfg.HTTPHeaderNames = []string{"x-dst-cluster-uuid"}
	cfg.ClusterIDHeader = "x-dst-cluster-uuid"
	w := newWorker(0, cfg, revlog.Discard())
	return w
}

// TestProxyHandlerRoutesByClusterIdentity covers a request that carries a
// cluster identity but no resolvable node identity: ChooseHost returns nil,
// and the handler must fall back to TakeSocketForCluster rather than 404.
func TestProxyHandlerRoutesByClusterIdentity(t *testing.T) {
	w := newTestWorker(t)

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go func() {
		req, err := http.ReadRequest(bufio.NewReader(remote))
		if err != nil {
			return
		}
		req.Body.Close()
		remote.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	}()

	w.pool.AddConnectionSocket("N1", "C1", &pool.ParkedSocket{Handle: &pipeHandle{Conn: local}, NodeID: "N1", ClusterID: "C1"}, 0, false)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Host = "unresolvable.example.com"
	req.Header.Set("x-dst-cluster-uuid", "C1")
	rec := httptest.NewRecorder()

	w.proxyHandler(revlog.Discard())(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 via cluster-identity routing, got %d: %s", rec.Code, rec.Body.String())
	}
	body, _ := ioutil.ReadAll(rec.Body)
	if string(body) != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
}

// TestProxyHandlerNotFoundWithoutAnyIdentity covers a request with neither a
// resolvable node identity nor a cluster identity.
func TestProxyHandlerNotFoundWithoutAnyIdentity(t *testing.T) {
	w := newTestWorker(t)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Host = "unresolvable.example.com"
	rec := httptest.NewRecorder()

	w.proxyHandler(revlog.Discard())(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
