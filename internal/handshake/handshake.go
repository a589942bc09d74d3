// Package handshake implements the terminal handshake filter: the single
// recognized request shape that duplicates an accepted FD and parks it in
// the upstream socket pool.
package handshake

import (
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/op/go-logging"

	"github.com/relaymesh/revtun/internal/iohandle"
	"github.com/relaymesh/revtun/internal/pool"
	"github.com/relaymesh/revtun/internal/randutil"
	"github.com/relaymesh/revtun/internal/wire"
)

// Pool is the subset of *pool.Pool the filter needs, so tests can supply a
// fake.
type Pool interface {
	AddConnectionSocket(nodeID, clusterID string, socket *pool.ParkedSocket, pingInterval time.Duration, rebalanced bool)
}

// Filter serves wire.HandshakePath; every other request is passed through
// untouched.
type Filter struct {
	Pool         Pool
	PingInterval time.Duration
	log          *logging.Logger
}

// New builds a Filter that parks accepted sockets in p with the given
// per-node ping interval.
func New(p Pool, pingInterval time.Duration, log *logging.Logger) *Filter {
	if log == nil {
		log = logging.MustGetLogger("revtun.handshake")
	}
	return &Filter{Pool: p, PingInterval: pingInterval, log: log}
}

// Register wires the filter into mux at wire.HandshakePath. Every other
// path on mux is the caller's concern; this filter is terminal only for
// its own path.
func (f *Filter) Register(mux *http.ServeMux) {
	mux.HandleFunc(wire.HandshakePath, f.serve)
}

func (f *Filter) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		f.reject(w, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	req, parseErr := wire.Decode(body)

	// Step 2: TLS SAN overlay takes precedence over payload fields.
	if r.TLS != nil {
		overlaySANOverrides(r.TLS, req)
	}

	if parseErr != nil || req == nil || req.NodeUUID == "" {
		f.reject(w, wire.ErrFailedToParse)
		return
	}

	corrID, err := randutil.Base62ish()
	if err != nil {
		corrID = "unavailable"
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		f.reject(w, "connection does not support hijacking")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		f.log.Errorf("handshake[%s]: hijack failed: %v", corrID, err)
		return
	}

	ah, ok := conn.(*iohandle.AcceptorHandle)
	if !ok {
		f.log.Errorf("handshake[%s]: hijacked connection is not a custodial acceptor handle: %T", corrID, conn)
		writeRawResponse(conn, wire.StatusInvalidArgument, "internal error: non-custodial connection")
		conn.Close()
		return
	}

	dup, err := ah.Duplicate()
	if err != nil {
		f.log.Errorf("handshake[%s]: fd duplication failed for node=%s: %v", corrID, req.NodeUUID, err)
		writeRawResponse(conn, wire.StatusInvalidArgument, "failed to duplicate socket")
		ah.Close()
		return
	}

	socket := &pool.ParkedSocket{
		Handle:     dup,
		LocalAddr:  ah.LocalAddr().String(),
		RemoteAddr: ah.RemoteAddr().String(),
	}
	f.Pool.AddConnectionSocket(req.NodeUUID, req.ClusterUUID, socket, f.PingInterval, false)

	writeRawResponse(conn, wire.StatusAccepted, "")

	// Step 7: close the logical connection, leaving the original FD open —
	// the acceptor ignores further I/O on it via custodial semantics.
	ah.ResetFileEvent()
	ah.Close()

	f.log.Infof("handshake[%s]: accepted reverse connection node=%s cluster=%s tenant=%s", corrID, req.NodeUUID, req.ClusterUUID, req.TenantUUID)
}

// reject writes an InvalidArgument response over the still-framed
// connection (no hijack needed: nothing was parked).
func (f *Filter) reject(w http.ResponseWriter, text string) {
	resp := &wire.Response{Status: wire.StatusInvalidArgument, Text: text}
	body, err := wire.EncodeResponse(resp)
	if err != nil {
		http.Error(w, text, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	w.Write(body)
}

// writeRawResponse writes a minimal HTTP/1.1 response directly onto a
// hijacked conn: once Hijack has been called, the ResponseWriter can no
// longer be used, so the status line, headers, and json body go straight
// over the raw net.Conn writes.
func writeRawResponse(conn interface{ Write([]byte) (int, error) }, status wire.Status, text string) {
	body, err := wire.EncodeResponse(&wire.Response{Status: status, Text: text})
	if err != nil {
		return
	}
	statusLine := "HTTP/1.1 200 OK\r\n"
	if status != wire.StatusAccepted {
		statusLine = "HTTP/1.1 400 Bad Request\r\n"
	}
	headers := fmt.Sprintf("Content-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", len(body))
	conn.Write([]byte(statusLine))
	conn.Write([]byte(headers))
	conn.Write(body)
}

// overlaySANOverrides scans the peer certificate's DNS-SAN entries of the
// form "key=value" and overwrites req's ClusterUUID/TenantUUID when key is
// clusterId/tenantId respectively.
func overlaySANOverrides(state *tls.ConnectionState, req *wire.Request) {
	if req == nil || len(state.PeerCertificates) == 0 {
		return
	}
	cert := state.PeerCertificates[0]
	for _, san := range cert.DNSNames {
		key, value, ok := splitSAN(san)
		if !ok {
			continue
		}
		switch key {
		case "clusterId":
			req.ClusterUUID = value
		case "tenantId":
			req.TenantUUID = value
		}
	}
}

func splitSAN(san string) (key, value string, ok bool) {
	idx := strings.IndexByte(san, '=')
	if idx < 0 {
		return "", "", false
	}
	return san[:idx], san[idx+1:], true
}
