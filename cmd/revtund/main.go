// Command revtund is the acceptor daemon: it listens for initiator dials,
// runs the handshake filter, parks reverse sockets, and proxies application
// traffic to them by node identity.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/op/go-logging"

	"github.com/relaymesh/revtun/internal/address"
	"github.com/relaymesh/revtun/internal/control"
	"github.com/relaymesh/revtun/internal/revlog"
	"github.com/relaymesh/revtun/internal/socketiface"
)

func useSyslog(cfg *Config) bool {
	if env := os.Getenv("REVTUND_LOG_SYSLOG"); env != "" {
		return env == "true"
	}
	return cfg.LogSyslog
}

func main() {
	configPath := flag.String("config", "/etc/revtund/config.yaml", "path to revtund config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		cfg = defaultConfig()
	}

	log := revlog.SetupLogging("revtund", logging.INFO, useSyslog(cfg))

	defer func() {
		if x := recover(); x != nil {
			log.Error(fmt.Sprintf("run time panic: %v", x))
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	listenAddr, err := address.ResolveSocketAddress(cfg.ListenAddr)
	if err != nil {
		log.Fatal(err)
	}
	ln, err := socketiface.NewListener(&socketiface.AcceptorInterface{Backlog: 256}, listenAddr, 256)
	if err != nil {
		log.Fatal(err)
	}
	defer ln.Close()

	workers := make([]*worker, cfg.Workers)
	for i := range workers {
		workers[i] = newWorker(i, cfg, log)
		go func(w *worker) {
			if err := w.serve(cfg, log); err != nil {
				log.Errorf("revtund: worker %d server exited: %v", w.id, err)
			}
		}(workers[i])
	}

	go dispatchAccepts(ln, workers, log)

	adminSrv := buildAdminServer(workers, log)
	adminLn, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer adminLn.Close()
	go func() {
		if err := adminSrv.Serve(adminLn); err != nil {
			log.Errorf("revtund: admin server exited: %v", err)
		}
	}()

	log.Noticef("revtund listening on %s, admin on %s, %d workers", cfg.ListenAddr, cfg.AdminAddr, cfg.Workers)

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)
	sig, ok := <-stopSignal
	for _, w := range workers {
		w.cluster.Stop()
	}
	if ok {
		log.Notice("stopping with signal", sig)
	}
}

// dispatchAccepts round-robins accepted connections across workers, the
// one point where an otherwise per-worker-local design needs a single
// shared entry point: the listener itself, not the pools, is the only
// thing shared before per-worker dispatch.
func dispatchAccepts(ln *socketiface.Listener, workers []*worker, log *logging.Logger) {
	next := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Errorf("revtund: accept: %v", err)
			return
		}
		workers[next].conns <- conn
		next = (next + 1) % len(workers)
	}
}

// buildAdminServer aggregates every worker's pool/cluster into a single
// admin view. The admin plane is an operational convenience, not a core
// data-plane path, so it is the one place allowed to look across workers.
func buildAdminServer(workers []*worker, log *logging.Logger) *adminHTTPServer {
	return &adminHTTPServer{workers: workers, log: log}
}

type adminHTTPServer struct {
	workers []*worker
	log     *logging.Logger
}

func (a *adminHTTPServer) Serve(ln net.Listener) error {
	srv := control.NewServer(aggregatePool{a.workers}, aggregateCluster{a.workers}, a.log)
	return srv.Serve(ln)
}

type aggregatePool struct{ workers []*worker }

func (a aggregatePool) Snapshot() map[string]int {
	out := make(map[string]int)
	for _, w := range a.workers {
		for k, v := range w.pool.Snapshot() {
			out[k] += v
		}
	}
	return out
}

func (a aggregatePool) Ping(nodeID string) {
	for _, w := range a.workers {
		w.pool.Ping(nodeID)
	}
}

func (a aggregatePool) Evict(nodeID string) {
	for _, w := range a.workers {
		w.pool.Evict(nodeID)
	}
}

type aggregateCluster struct{ workers []*worker }

func (a aggregateCluster) HostCount() int {
	total := 0
	for _, w := range a.workers {
		total += w.cluster.HostCount()
	}
	return total
}
