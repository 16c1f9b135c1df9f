// Package hub tracks viewer connections and pushes order state to them.
package hub

import (
	"sort"
	"sync"
)

type ScopeKind string

const (
	ScopeBranch ScopeKind = "branch"
	ScopeOrder  ScopeKind = "order"
)

// Scope is what a connection watches: every active order of a branch, or
// a single order.
type Scope struct {
	Kind    ScopeKind
	Branch  string
	OrderID string
}

func BranchScope(branch string) Scope { return Scope{Kind: ScopeBranch, Branch: branch} }

func OrderScope(orderID string) Scope { return Scope{Kind: ScopeOrder, OrderID: orderID} }

func (s Scope) matches(o Scope) bool {
	if s.Kind != o.Kind {
		return false
	}
	if s.Kind == ScopeBranch {
		return s.Branch == o.Branch
	}
	return s.OrderID == o.OrderID
}

// Registry is the set of live connections.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
}

// Unregister reports whether id was registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ForEachInScope calls fn for every client currently subscribed to scope.
// fn runs outside the registry lock.
func (r *Registry) ForEachInScope(scope Scope, fn func(*Client)) {
	r.mu.RLock()
	var matched []*Client
	for _, c := range r.clients {
		if s, ok := c.Scope(); ok && s.matches(scope) {
			matched = append(matched, c)
		}
	}
	r.mu.RUnlock()
	for _, c := range matched {
		fn(c)
	}
}

// Subscriptions lists the distinct branches and order ids that have at
// least one subscriber, each sorted.
func (r *Registry) Subscriptions() (branches, orders []string) {
	r.mu.RLock()
	bs := make(map[string]struct{})
	ids := make(map[string]struct{})
	for _, c := range r.clients {
		s, ok := c.Scope()
		switch {
		case !ok:
		case s.Kind == ScopeBranch:
			bs[s.Branch] = struct{}{}
		default:
			ids[s.OrderID] = struct{}{}
		}
	}
	r.mu.RUnlock()
	return sortedKeys(bs), sortedKeys(ids)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
