package fake

import (
	"context"
	"net"
	"net/netip"
	"sync"
)

// Resolver answers lookups from a static table. Unknown hosts fail with a
// not-found DNS error.
type Resolver struct {
	CallRecorder
	mu    sync.Mutex
	hosts map[string][]netip.Addr
	errs  map[string]error
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{hosts: make(map[string][]netip.Addr), errs: make(map[string]error)}
}

// Set registers the addresses returned for host.
func (r *Resolver) Set(host string, addrs ...netip.Addr) *Resolver {
	r.mu.Lock()
	r.hosts[host] = addrs
	r.mu.Unlock()
	return r
}

// Fail makes lookups of host return err.
func (r *Resolver) Fail(host string, err error) *Resolver {
	r.mu.Lock()
	r.errs[host] = err
	r.mu.Unlock()
	return r
}

func (r *Resolver) LookupNetIP(_ context.Context, network, host string) ([]netip.Addr, error) {
	r.record("LookupNetIP", network, host)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.errs[host]; ok {
		return nil, err
	}
	addrs, ok := r.hosts[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return append([]netip.Addr(nil), addrs...), nil
}
