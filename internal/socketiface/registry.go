package socketiface

import "sync"

// Registry is the process-wide socket-interface registry calls
// for: "initialized once at startup; read-only after... never hidden global
// mutation after startup". It is an explicit value passed
// around rather than a package-level map mutated from init() functions.
type Registry struct {
	mu         sync.RWMutex
	interfaces map[string]Interface
	frozen     bool
}

// NewRegistry builds an empty, mutable registry. Callers register every
// interface they need during startup, then call Freeze.
func NewRegistry() *Registry {
	return &Registry{interfaces: make(map[string]Interface)}
}

// Register adds an interface under its own Name(). It panics if called
// after Freeze — a configuration-time programming error, not a recoverable
// one.
func (r *Registry) Register(iface Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("socketiface: Register called after registry was frozen")
	}
	r.interfaces[iface.Name()] = iface
}

// Freeze marks the registry read-only. After this, Lookup never observes a
// concurrent write.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the interface registered under name, if any.
func (r *Registry) Lookup(name string) (Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.interfaces[name]
	return iface, ok
}

// Default builds the standard registry used by the daemons: both
// reverse-tunnel socket interfaces, registered and frozen.
func Default() *Registry {
	r := NewRegistry()
	r.Register(&InitiatorInterface{})
	r.Register(&AcceptorInterface{})
	r.Freeze()
	return r
}
