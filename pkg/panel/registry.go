// Package panel manages the lifecycle of endpoint connections for an operator
// panel: admission of connection requests at a bounded rate, per-session frame
// polling, delayed metadata resolution, and teardown.
package panel

import (
	"sync"

	"github.com/sammck-go/panelrelay/pkg/veyon"
)

// Request is a pending connection attempt for one address. Requested is set
// once authentication for it is in flight.
type Request struct {
	Address   string
	Requested bool
}

// Registry holds the pending Requests and live Sessions of one panel. For any
// address it holds at most one of either.
type Registry struct {
	mu       sync.Mutex
	requests []*Request
	sessions []*veyon.Session
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) hasLocked(address string) bool {
	for _, req := range r.requests {
		if req.Address == address {
			return true
		}
	}
	for _, s := range r.sessions {
		if s.Host() == address {
			return true
		}
	}
	return false
}

// Enqueue adds a Request for address unless a Request or Session for it
// already exists. Returns true if a Request was added.
func (r *Registry) Enqueue(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasLocked(address) {
		return false
	}
	r.requests = append(r.requests, &Request{Address: address})
	return true
}

// claimNext looks at no more than the first lookahead Requests and marks the
// first one not yet requested. Returns its address, or "" if none.
func (r *Registry) claimNext(lookahead int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.requests)
	if lookahead < n {
		n = lookahead
	}
	for _, req := range r.requests[:n] {
		if req.Requested {
			continue
		}
		req.Requested = true
		return req.Address
	}
	return ""
}

// complete removes the Request for address and, if s is not nil, registers s
func (r *Registry) complete(address string, s *veyon.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, req := range r.requests {
		if req.Address == address {
			r.requests = append(r.requests[:i], r.requests[i+1:]...)
			break
		}
	}
	if s != nil {
		r.sessions = append(r.sessions, s)
	}
}

// Session returns the live Session for address
func (r *Registry) Session(address string) (*veyon.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Host() == address {
			return s, true
		}
	}
	return nil, false
}

// Remove drops the Session for address from the registry and returns it
func (r *Registry) Remove(address string) (*veyon.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sessions {
		if s.Host() == address {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return s, true
		}
	}
	return nil, false
}

// Sessions returns a snapshot of the live Sessions in admission order
func (r *Registry) Sessions() []*veyon.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*veyon.Session(nil), r.sessions...)
}

// Pending returns a snapshot of the pending Requests
func (r *Registry) Pending() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, len(r.requests))
	for i, req := range r.requests {
		out[i] = *req
	}
	return out
}

// Clear empties the registry and returns the Sessions it held
func (r *Registry) Clear() []*veyon.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sessions
	r.sessions = nil
	r.requests = nil
	return out
}
