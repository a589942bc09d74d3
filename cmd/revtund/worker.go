package main

import (
	"io"
	"net"
	"net/http"

	"github.com/op/go-logging"

	"github.com/relaymesh/revtun/internal/cluster"
	"github.com/relaymesh/revtun/internal/handshake"
	"github.com/relaymesh/revtun/internal/pool"
	"github.com/relaymesh/revtun/internal/proxyrt"
)

// worker owns exactly one pool, one cluster, and one HTTP server. Each
// worker owns its own upstream socket pool, synthetic-host map, and cleanup
// timer; there is no cross-worker mutex in the core data path.
type worker struct {
	id      int
	pool    *pool.Pool
	cluster *cluster.ReverseCluster
	conns   chan net.Conn
}

func newWorker(id int, cfg *Config, log *logging.Logger) *worker {
	w := &worker{
		id:   id,
		pool: pool.NewPool(cfg.PingFailureThreshold, 4096, log),
		cluster: cluster.NewReverseCluster(cluster.Config{
			CleanupInterval: cfg.cleanupInterval(),
			HTTPHeaderNames: cfg.HTTPHeaderNames,
			ClusterIDHeader: cfg.ClusterIDHeader,
			ProxyHostSuffix: cfg.ProxyHostSuffix,
		}, log),
		conns: make(chan net.Conn, 64),
	}
	return w
}

// serve runs this worker's own http.Server, fed only by connections handed
// to it by the accept-dispatch loop in main.
func (w *worker) serve(cfg *Config, log *logging.Logger) error {
	mux := http.NewServeMux()
	filter := handshake.New(w.pool, cfg.pingInterval(), log)
	filter.Register(mux)
	mux.HandleFunc("/", w.proxyHandler(log))

	srv := &http.Server{Handler: mux}
	return srv.Serve(&channelListener{conns: w.conns, addr: tcpAddrOrNil(cfg.ListenAddr)})
}

// proxyHandler resolves an incoming request to a node identity via the
// cluster's host lookup, claims a parked socket for that node, and replays
// the request over it.
func (w *worker) proxyHandler(log *logging.Logger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		headers := map[string]string{}
		for _, name := range w.cluster.Config().HTTPHeaderNames {
			headers[name] = r.Header.Get(name)
		}
		sni := ""
		if r.TLS != nil && r.TLS.ServerName != "" {
			sni = r.TLS.ServerName
		}
		lookup := cluster.LookupRequest{Headers: headers, Host: r.Host, SNI: sni}
		host, err := w.cluster.ChooseHost(lookup)
		if err != nil {
			http.NotFound(rw, r)
			return
		}

		if host != nil {
			socket := w.pool.TakeSocketForNode(host.Identity)
			if socket == nil {
				http.Error(rw, "no parked upstream for node", http.StatusBadGateway)
				return
			}
			host.Acquire()
			defer host.Release()

			if err := proxyOverSocket(rw, r, socket); err != nil {
				log.Warningf("revtund: proxy to node=%s failed: %v", host.Identity, err)
				http.Error(rw, "upstream error", http.StatusBadGateway)
			}
			return
		}

		// No node identity was derivable; fall back to cluster-identity-only
		// routing, picking the lexicographically smallest node with a parked
		// socket in that cluster.
		clusterID := w.cluster.ClusterID(lookup)
		if clusterID == "" {
			http.NotFound(rw, r)
			return
		}
		socket := w.pool.TakeSocketForCluster(clusterID)
		if socket == nil {
			http.Error(rw, "no parked upstream for cluster", http.StatusBadGateway)
			return
		}
		if err := proxyOverSocket(rw, r, socket); err != nil {
			log.Warningf("revtund: proxy to cluster=%s failed: %v", clusterID, err)
			http.Error(rw, "upstream error", http.StatusBadGateway)
		}
	}
}

func tcpAddrOrNil(hostPort string) net.Addr {
	addr, err := net.ResolveTCPAddr("tcp", hostPort)
	if err != nil {
		return nil
	}
	return addr
}

// channelListener adapts a channel of already-accepted connections (routed
// by the dispatch loop in main) to net.Listener, so each worker's
// http.Server only ever sees the connections assigned to it.
type channelListener struct {
	conns chan net.Conn
	addr  net.Addr
}

func (l *channelListener) Accept() (net.Conn, error) {
	conn, ok := <-l.conns
	if !ok {
		return nil, errListenerClosed
	}
	return conn, nil
}

func (l *channelListener) Close() error { return nil }
func (l *channelListener) Addr() net.Addr {
	if l.addr != nil {
		return l.addr
	}
	return &net.TCPAddr{}
}

var errListenerClosed = &listenerClosedError{}

type listenerClosedError struct{}

func (*listenerClosedError) Error() string   { return "revtund: worker listener closed" }
func (*listenerClosedError) Timeout() bool   { return false }
func (*listenerClosedError) Temporary() bool { return false }

// proxyOverSocket replays r over socket's parked connection and copies the
// upstream response back to rw.
func proxyOverSocket(rw http.ResponseWriter, r *http.Request, socket *pool.ParkedSocket) error {
	rt := proxyrt.New(socket)
	defer rt.Release()

	resp, err := rt.RoundTrip(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for k, values := range resp.Header {
		for _, v := range values {
			rw.Header().Add(k, v)
		}
	}
	rw.WriteHeader(resp.StatusCode)
	_, err = io.Copy(rw, resp.Body)
	return err
}
