// Package proxyrt implements the reverse proxying of application traffic:
// once a parked socket has been claimed from the pool, ordinary HTTP
// requests are replayed over it exactly as if it were a freshly dialed
// upstream connection.
package proxyrt

import (
	"bufio"
	"fmt"
	"net/http"

	"github.com/relaymesh/revtun/internal/pool"
)

// RoundTripper implements http.RoundTripper by writing each request
// directly onto a claimed parked socket's handle and reading back the
// response: httpRequest.Write(conn) followed by
// http.ReadResponse(bufio.NewReader(conn), httpRequest).
//
// A RoundTripper is single-use: the underlying socket belongs to exactly
// one node and, once consumed by a RoundTrip call, cannot be returned to
// the pool — the upstream traffic on a reverse tunnel is not multiplexed.
type RoundTripper struct {
	Socket *pool.ParkedSocket

	used bool
}

// New builds a RoundTripper over socket, claimed from the pool via
// TakeSocketForNode or TakeSocketForCluster.
func New(socket *pool.ParkedSocket) *RoundTripper {
	return &RoundTripper{Socket: socket}
}

// RoundTrip implements http.RoundTripper. It may be called at most once.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.used {
		return nil, fmt.Errorf("proxyrt: round tripper already consumed its single parked socket")
	}
	rt.used = true

	if err := req.Write(rt.Socket.Handle); err != nil {
		return nil, fmt.Errorf("proxyrt: write request to node=%s: %w", rt.Socket.NodeID, err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(rt.Socket.Handle), req)
	if err != nil {
		return nil, fmt.Errorf("proxyrt: read response from node=%s: %w", rt.Socket.NodeID, err)
	}
	return resp, nil
}

// Release tears down the claimed socket's underlying FD. Callers must call
// this once done with the response body, since the parked socket no longer
// lives in any pool and nothing else will release it.
func (rt *RoundTripper) Release() error {
	if releaser, ok := rt.Socket.Handle.(interface{ Release() error }); ok {
		return releaser.Release()
	}
	return rt.Socket.Handle.Close()
}
