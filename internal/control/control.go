// Package control implements the operator-facing admin control plane: a
// small HTTP server exposing pool/cluster status and node ping/evict
// actions, one handler per concern, encoding/json bodies over a ServeMux.
package control

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/op/go-logging"

	"github.com/relaymesh/revtun/internal/cluster"
	"github.com/relaymesh/revtun/internal/pool"
)

// Pool is the subset of *pool.Pool the admin server needs.
type Pool interface {
	Snapshot() map[string]int
	Ping(nodeID string)
	Evict(nodeID string)
}

// Cluster is the subset of *cluster.ReverseCluster the admin server needs.
type Cluster interface {
	HostCount() int
}

// Server is the admin control server. It serves whatever Pool and Cluster it
// is given: a single worker's *pool.Pool and *cluster.ReverseCluster, or (as
// revtund does) views that aggregate every worker's pool and cluster.
type Server struct {
	pool    Pool
	cluster Cluster
	log     *logging.Logger
}

// NewServer builds an admin control server over the given pool and cluster
// state.
func NewServer(p Pool, c Cluster, log *logging.Logger) *Server {
	if log == nil {
		log = logging.MustGetLogger("revtun.control")
	}
	return &Server{pool: p, cluster: c, log: log}
}

// Mux builds the admin HTTP handler.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.HandleFunc("/nodes/ping", s.handlePing)
	mux.HandleFunc("/nodes/evict", s.handleEvict)
	return mux
}

// Serve runs the admin server on listener until it errors or is closed.
func (s *Server) Serve(listener net.Listener) error {
	return http.Serve(listener, s.Mux())
}

type statusResponse struct {
	ParkedNodeCount int `json:"parked_node_count"`
	SyntheticHosts  int `json:"synthetic_hosts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		ParkedNodeCount: len(s.pool.Snapshot()),
		SyntheticHosts:  s.cluster.HostCount(),
	}
	writeJSON(w, resp)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pool.Snapshot())
}

type nodeActionRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.handleNodeAction(w, r, s.pool.Ping)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	s.handleNodeAction(w, r, s.pool.Evict)
}

func (s *Server) handleNodeAction(w http.ResponseWriter, r *http.Request, action func(string)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req nodeActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
		http.Error(w, "missing node_id", http.StatusBadRequest)
		return
	}
	action(req.NodeID)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

var (
	_ Pool    = (*pool.Pool)(nil)
	_ Cluster = (*cluster.ReverseCluster)(nil)
)
