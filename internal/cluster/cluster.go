// Package cluster implements the reverse-tunnel cluster: host lookup by
// header/Host/SNI priority, synthetic-host minting and reuse, and a
// periodic cleanup sweep of unused hosts.
package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/relaymesh/revtun/internal/address"
)

// DefaultProxyHostSuffix is the DNS suffix uses to encode node
// identity in a Host header when a cluster does not configure its own.
const DefaultProxyHostSuffix = "tcpproxy.envoy.remote"

// Config is the cluster's load-time configuration. It has no load-balancing
// policy or static load assignment fields, and neither this package nor the
// revtund config loader checks for them: ReverseCluster always acts as a
// cluster-provided load balancer with no static assignment.
type Config struct {
	CleanupInterval  time.Duration
	HTTPHeaderNames  []string // consulted in order; designated cluster-id header, if any, is ClusterIDHeader
	ClusterIDHeader  string
	ProxyHostSuffix  string
}

// SyntheticHost is a lazily created host owned by the cluster, keyed by
// node identity. It carries no real upstream IP; it exists
// purely to give the cluster manager a stable object to route through.
type SyntheticHost struct {
	Identity string
	Addr     *address.SyntheticAddress

	mu       sync.Mutex
	handles  int
}

// Acquire records an outstanding use handle on the host, keeping it alive
// across a cleanup sweep.
func (h *SyntheticHost) Acquire() {
	h.mu.Lock()
	h.handles++
	h.mu.Unlock()
}

// Release drops an outstanding use handle.
func (h *SyntheticHost) Release() {
	h.mu.Lock()
	if h.handles > 0 {
		h.handles--
	}
	h.mu.Unlock()
}

func (h *SyntheticHost) inUse() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handles > 0
}

// ReverseCluster owns the NodeIdentity -> SyntheticHost map for one worker.
// It is never shared across workers and has no cross-worker mutex; its own
// mutex only guards the single worker's concurrent request handlers against
// the cleanup timer goroutine.
type ReverseCluster struct {
	cfg Config
	log *logging.Logger

	mu    sync.Mutex
	hosts map[string]*SyntheticHost

	stop chan struct{}
}

// NewReverseCluster builds a cluster and, when cfg.CleanupInterval is
// positive, starts its cleanup timer. Callers must call Stop on shutdown to
// release the timer goroutine.
func NewReverseCluster(cfg Config, log *logging.Logger) *ReverseCluster {
	if cfg.ProxyHostSuffix == "" {
		cfg.ProxyHostSuffix = DefaultProxyHostSuffix
	}
	if log == nil {
		log = logging.MustGetLogger("revtun.cluster")
	}
	c := &ReverseCluster{
		cfg:   cfg,
		log:   log,
		hosts: make(map[string]*SyntheticHost),
		stop:  make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

func (c *ReverseCluster) Stop() { close(c.stop) }

func (c *ReverseCluster) cleanupLoop() {
	t := time.NewTimer(c.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.Cleanup()
			t.Reset(c.cfg.CleanupInterval)
		}
	}
}

// LookupRequest carries the inputs the host-lookup priority order needs
// from an incoming request: header values, the Host header, and (if TLS)
// the SNI server name.
type LookupRequest struct {
	Headers map[string]string
	Host    string
	SNI     string
}

// ChooseHost resolves req to a node identity using header/Host/SNI priority
// order and mints or reuses the corresponding SyntheticHost. Returns nil if
// no node identity could be derived, even if a cluster identity was found —
// callers needing cluster-identity-only routing should consult ClusterID
// and the pool's TakeSocketForCluster directly.
func (c *ReverseCluster) ChooseHost(req LookupRequest) (*SyntheticHost, error) {
	identity, _, ok := c.resolveIdentity(req)
	if !ok {
		return nil, nil
	}
	return c.mint(identity)
}

// ClusterID extracts the designated cluster-identity header value from
// req, if any, without requiring a node identity to also be present. A
// caller with only a cluster identity routes via the pool's
// TakeSocketForCluster instead of minting a node-keyed SyntheticHost.
func (c *ReverseCluster) ClusterID(req LookupRequest) string {
	if c.cfg.ClusterIDHeader == "" {
		return ""
	}
	return req.Headers[c.cfg.ClusterIDHeader]
}

func (c *ReverseCluster) resolveIdentity(req LookupRequest) (identity, clusterID string, ok bool) {
	for _, name := range c.cfg.HTTPHeaderNames {
		v, present := req.Headers[name]
		if !present || v == "" {
			continue
		}
		if name == c.cfg.ClusterIDHeader {
			clusterID = v
			continue
		}
		return v, clusterID, true
	}

	if id, err := parseHostSuffix(req.Host, c.cfg.ProxyHostSuffix, true); err == nil {
		return id, clusterID, true
	}

	if id, err := parseHostSuffix(req.SNI, c.cfg.ProxyHostSuffix, false); err == nil {
		return id, clusterID, true
	}

	return "", clusterID, false
}

// parseHostSuffix parses "<identity>.<suffix>[:<port>]" (allowPort controls
// whether a trailing ":<port>" is accepted — the Host header may carry a
// port, SNI never does). An empty identity before the suffix is explicitly
// allowed.
func parseHostSuffix(value, suffix string, allowPort bool) (string, error) {
	if value == "" {
		return "", fmt.Errorf("cluster: empty host/SNI value")
	}

	host := value
	if allowPort {
		if idx := strings.LastIndex(value, ":"); idx >= 0 {
			host = value[:idx]
			portStr := value[idx+1:]
			if _, err := strconv.Atoi(portStr); err != nil {
				return "", fmt.Errorf("cluster: non-numeric port in %q", value)
			}
		}
	}

	dotSuffix := "." + suffix
	if !strings.HasSuffix(host, dotSuffix) {
		return "", fmt.Errorf("cluster: %q does not end in %q", host, dotSuffix)
	}
	identity := strings.TrimSuffix(host, dotSuffix)
	if strings.Contains(identity, ".") {
		return "", fmt.Errorf("cluster: identity %q may not contain '.'", identity)
	}
	return identity, nil
}

// mint returns the existing host for identity or creates one. Repeated
// calls for the same identity return the same *SyntheticHost instance.
func (c *ReverseCluster) mint(identity string) (*SyntheticHost, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.hosts[identity]; ok {
		return h, nil
	}
	addr, err := address.NewSyntheticAddress(identity)
	if err != nil {
		return nil, err
	}
	h := &SyntheticHost{Identity: identity, Addr: addr}
	c.hosts[identity] = h
	c.log.Debugf("cluster: minted synthetic host for identity=%s", identity)
	return h, nil
}

// Cleanup removes every host with zero outstanding handles. Hosts with
// outstanding handles survive.
func (c *ReverseCluster) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for identity, h := range c.hosts {
		if !h.inUse() {
			delete(c.hosts, identity)
		}
	}
}

// Config returns the cluster's load-time configuration.
func (c *ReverseCluster) Config() Config { return c.cfg }

// Host returns the currently minted host for identity, if any, without
// minting a new one. Used by tests.
func (c *ReverseCluster) Host(identity string) (*SyntheticHost, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hosts[identity]
	return h, ok
}

// HostCount reports how many hosts are currently minted, for the admin
// control server's /status endpoint.
func (c *ReverseCluster) HostCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hosts)
}

// LoadBalancerFactory and ThreadAwareLoadBalancer below are the cluster's
// two exported factory surfaces. They produce per-invocation load-balancer
// instances sharing the cluster's state. The unsupported operations
// PeekAnotherHost, SelectExistingConnection and LifetimeCallbacks return a
// nil host, false and no callbacks respectively; none of them returns an
// error.

// LoadBalancer is a per-invocation view over the shared cluster state.
type LoadBalancer struct {
	cluster *ReverseCluster
}

// ChooseHost delegates to the owning cluster.
func (lb *LoadBalancer) ChooseHost(req LookupRequest) (*SyntheticHost, error) {
	return lb.cluster.ChooseHost(req)
}

// PeekAnotherHost is unsupported: reverse-tunnel routing is single-shot per
// request, there is no speculative second host to peek.
func (lb *LoadBalancer) PeekAnotherHost() (*SyntheticHost, error) { return nil, nil }

// SelectExistingConnection is unsupported: reverse-tunnel upstream
// selection always goes through the pool, never connection reuse by the
// load balancer itself.
func (lb *LoadBalancer) SelectExistingConnection() (bool, error) { return false, nil }

// LifetimeCallbacks is unsupported: the cluster has no host add/remove
// callbacks to offer beyond its own cleanup sweep.
func (lb *LoadBalancer) LifetimeCallbacks() []func(*SyntheticHost) { return nil }

// LoadBalancerFactory produces a LoadBalancer bound to cluster.
type LoadBalancerFactory struct {
	cluster *ReverseCluster
}

func NewLoadBalancerFactory(cluster *ReverseCluster) *LoadBalancerFactory {
	return &LoadBalancerFactory{cluster: cluster}
}

func (f *LoadBalancerFactory) Create() *LoadBalancer { return &LoadBalancer{cluster: f.cluster} }

// ThreadAwareLoadBalancer is the per-worker-thread counterpart: each
// worker's event loop asks it for a LoadBalancer bound to that worker's own
// ReverseCluster instance, never a shared one.
type ThreadAwareLoadBalancer struct {
	factory *LoadBalancerFactory
}

func NewThreadAwareLoadBalancer(factory *LoadBalancerFactory) *ThreadAwareLoadBalancer {
	return &ThreadAwareLoadBalancer{factory: factory}
}

func (t *ThreadAwareLoadBalancer) LoadBalancer() *LoadBalancer { return t.factory.Create() }
