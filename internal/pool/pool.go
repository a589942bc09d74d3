// Package pool implements the acceptor-side upstream socket pool: a
// per-worker registry mapping node identity to parked reverse sockets, with
// ping-based liveness and a secondary cluster-identity index.
package pool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/op/go-logging"

	"github.com/relaymesh/revtun/internal/iohandle"
)

// ParkedSocket is a kernel FD retained by the acceptor after handshake,
// indexed by node identity, awaiting application traffic or a ping.
type ParkedSocket struct {
	Handle iohandle.Handle

	NodeID    string
	ClusterID string

	LocalAddr  string
	RemoteAddr string

	PingInterval   time.Duration
	LastPingReply  time.Time
	fileEventToken bool
}

type nodeState struct {
	sockets     []*ParkedSocket // FIFO: index 0 is oldest
	pingArmed   bool
	pingTimer   *time.Timer
}

// Pool belongs to one worker. Every exported method takes the pool's mutex,
// since the worker's request handlers, its ping timers and the admin control
// server may call it from different goroutines.
type Pool struct {
	mu sync.Mutex

	nodes   map[string]*nodeState
	cluster map[string]map[string]struct{} // ClusterIdentity -> set of NodeIdentity

	pingThreshold int
	failures      *lru.Cache // NodeIdentity -> consecutive ping failure count

	log *logging.Logger
}

// NewPool builds an empty pool. pingThreshold bounds how many consecutive
// ping failures a node tolerates before Ping evicts it outright; failureLRU
// caps how many distinct node ids' failure counters are retained at once, so
// a node that connects once and never returns can't grow the counter map
// without bound.
func NewPool(pingThreshold, failureLRUSize int, log *logging.Logger) *Pool {
	if failureLRUSize <= 0 {
		failureLRUSize = 4096
	}
	cache, err := lru.New(failureLRUSize)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(fmt.Sprintf("pool: failure cache: %v", err))
	}
	if log == nil {
		log = logging.MustGetLogger("revtun.pool")
	}
	return &Pool{
		nodes:         make(map[string]*nodeState),
		cluster:       make(map[string]map[string]struct{}),
		pingThreshold: pingThreshold,
		failures:      cache,
		log:           log,
	}
}

// AddConnectionSocket appends socket to NodePool[nodeID], inserts nodeID
// into ClusterIndex[clusterID], and arms a ping timer for the node the
// first time it is seen (never re-armed per socket, to avoid ping storms).
// rebalanced is an opaque hint that this socket arrived via cross-worker
// rebalancing and should not itself trigger rebalancing logic.
func (p *Pool) AddConnectionSocket(nodeID, clusterID string, socket *ParkedSocket, pingInterval time.Duration, rebalanced bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	socket.NodeID = nodeID
	socket.ClusterID = clusterID
	socket.PingInterval = pingInterval

	ns, ok := p.nodes[nodeID]
	if !ok {
		ns = &nodeState{}
		p.nodes[nodeID] = ns
	}
	ns.sockets = append(ns.sockets, socket)

	if clusterID != "" {
		bucket, ok := p.cluster[clusterID]
		if !ok {
			bucket = make(map[string]struct{})
			p.cluster[clusterID] = bucket
		}
		bucket[nodeID] = struct{}{}
	}

	if err := socket.Handle.RegisterFileEvent(p.onFileEvent(nodeID)); err != nil {
		p.log.Warningf("pool: register file event for node %s: %v", nodeID, err)
	}
	socket.fileEventToken = true

	if !ns.pingArmed && pingInterval > 0 {
		ns.pingArmed = true
		p.armPingTimer(nodeID, ns, pingInterval)
	}

	p.log.Debugf("pool: parked socket for node=%s cluster=%s rebalanced=%v (depth=%d)", nodeID, clusterID, rebalanced, len(ns.sockets))
}

// armPingTimer must be called with p.mu held. It schedules a self-rearming
// timer that calls Ping outside the lock.
func (p *Pool) armPingTimer(nodeID string, ns *nodeState, interval time.Duration) {
	ns.pingTimer = time.AfterFunc(interval, func() {
		p.Ping(nodeID)

		p.mu.Lock()
		still, ok := p.nodes[nodeID]
		p.mu.Unlock()
		if ok && len(still.sockets) > 0 {
			p.mu.Lock()
			p.armPingTimer(nodeID, still, interval)
			p.mu.Unlock()
		} else {
			p.mu.Lock()
			if n, ok := p.nodes[nodeID]; ok {
				n.pingArmed = false
			}
			p.mu.Unlock()
		}
	})
}

// onFileEvent evicts a node's sockets when a Closed readiness signal
// arrives out of band.
func (p *Pool) onFileEvent(nodeID string) func(iohandle.FileEvent) {
	return func(ev iohandle.FileEvent) {
		if ev&iohandle.EventClosed != 0 {
			p.Evict(nodeID)
		}
	}
}

// TakeSocketForNode pops the oldest parked socket for nodeID, removing the
// node from the cluster index if the pool becomes empty. Returns nil if no
// socket is parked.
func (p *Pool) TakeSocketForNode(nodeID string) *ParkedSocket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.takeSocketForNodeLocked(nodeID)
}

func (p *Pool) takeSocketForNodeLocked(nodeID string) *ParkedSocket {
	ns, ok := p.nodes[nodeID]
	if !ok || len(ns.sockets) == 0 {
		return nil
	}
	socket := ns.sockets[0]
	ns.sockets = ns.sockets[1:]
	if len(ns.sockets) == 0 {
		p.removeFromClusterIndexLocked(nodeID)
	}
	return socket
}

// TakeSocketForCluster resolves clusterID to the lexicographically smallest
// node id with a non-empty pool, then delegates to TakeSocketForNode. This
// is the deterministic tie-break leaves as an open question.
func (p *Pool) TakeSocketForCluster(clusterID string) *ParkedSocket {
	p.mu.Lock()
	defer p.mu.Unlock()

	bucket, ok := p.cluster[clusterID]
	if !ok || len(bucket) == 0 {
		return nil
	}
	candidates := make([]string, 0, len(bucket))
	for nodeID := range bucket {
		if ns, ok := p.nodes[nodeID]; ok && len(ns.sockets) > 0 {
			candidates = append(candidates, nodeID)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Strings(candidates)
	return p.takeSocketForNodeLocked(candidates[0])
}

// removeFromClusterIndexLocked must be called with p.mu held.
func (p *Pool) removeFromClusterIndexLocked(nodeID string) {
	ns, ok := p.nodes[nodeID]
	clusterID := ""
	if ok && len(ns.sockets) > 0 {
		clusterID = ns.sockets[0].ClusterID
	}
	if clusterID == "" {
		for cid, bucket := range p.cluster {
			if _, present := bucket[nodeID]; present {
				delete(bucket, nodeID)
				if len(bucket) == 0 {
					delete(p.cluster, cid)
				}
			}
		}
		return
	}
	if bucket, ok := p.cluster[clusterID]; ok {
		delete(bucket, nodeID)
		if len(bucket) == 0 {
			delete(p.cluster, clusterID)
		}
	}
}

// Ping sends a single-byte keepalive over every parked socket for nodeID.
// Any socket whose write fails synchronously is evicted; if every socket
// for the node fails, the node's failure counter increments and the node
// is evicted outright once it crosses pingThreshold.
func (p *Pool) Ping(nodeID string) {
	p.mu.Lock()
	ns, ok := p.nodes[nodeID]
	if !ok {
		p.mu.Unlock()
		return
	}
	sockets := make([]*ParkedSocket, len(ns.sockets))
	copy(sockets, ns.sockets)
	p.mu.Unlock()

	if len(sockets) == 0 {
		return
	}

	allFailed := true
	for _, s := range sockets {
		if _, err := s.Handle.Send([]byte{0}, 0); err != nil {
			p.log.Debugf("pool: ping write failed for node=%s: %v", nodeID, err)
			p.evictSocket(nodeID, s)
			continue
		}
		s.LastPingReply = time.Now()
		allFailed = false
	}

	if !allFailed {
		p.failures.Remove(nodeID)
		return
	}

	count := 1
	if v, ok := p.failures.Get(nodeID); ok {
		count = v.(int) + 1
	}
	p.failures.Add(nodeID, count)
	if count >= p.pingThreshold && p.pingThreshold > 0 {
		p.log.Warningf("pool: node=%s exceeded ping failure threshold (%d), evicting", nodeID, count)
		p.Evict(nodeID)
	}
}

// evictSocket removes a single failed socket from its node's queue and
// releases its FD. Used by Ping when only some of a node's sockets fail.
func (p *Pool) evictSocket(nodeID string, target *ParkedSocket) {
	p.mu.Lock()
	ns, ok := p.nodes[nodeID]
	if ok {
		kept := ns.sockets[:0]
		for _, s := range ns.sockets {
			if s != target {
				kept = append(kept, s)
			}
		}
		ns.sockets = kept
		if len(ns.sockets) == 0 {
			p.removeFromClusterIndexLocked(nodeID)
		}
	}
	p.mu.Unlock()
	releaseSocket(target)
}

// Evict closes and removes every socket for nodeID. Called on graceful
// shutdown of a node's parked state or when Ping's failure threshold trips.
func (p *Pool) Evict(nodeID string) {
	p.mu.Lock()
	ns, ok := p.nodes[nodeID]
	if !ok {
		p.mu.Unlock()
		return
	}
	sockets := ns.sockets
	if ns.pingTimer != nil {
		ns.pingTimer.Stop()
	}
	delete(p.nodes, nodeID)
	p.removeFromClusterIndexLocked(nodeID)
	p.mu.Unlock()

	p.failures.Remove(nodeID)
	for _, s := range sockets {
		releaseSocket(s)
	}
}

func releaseSocket(s *ParkedSocket) {
	if releaser, ok := s.Handle.(interface{ Release() error }); ok {
		releaser.Release()
		return
	}
	s.Handle.Close()
}

// Depth reports how many sockets are currently parked for nodeID.
func (p *Pool) Depth(nodeID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ns, ok := p.nodes[nodeID]; ok {
		return len(ns.sockets)
	}
	return 0
}

// Snapshot returns the current node ids and their parked socket counts, for
// the admin control server's /status and /nodes endpoints.
func (p *Pool) Snapshot() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.nodes))
	for nodeID, ns := range p.nodes {
		out[nodeID] = len(ns.sockets)
	}
	return out
}

// ClusterNodes returns the node ids currently indexed under clusterID, for
// diagnostics and tests.
func (p *Pool) ClusterNodes(clusterID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket, ok := p.cluster[clusterID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(bucket))
	for nodeID := range bucket {
		out = append(out, nodeID)
	}
	sort.Strings(out)
	return out
}
