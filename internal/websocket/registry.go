package websocket

import (
	"slices"
	"sync"
)

// Registry maps identities to their open connections. An identity may hold
// any number of concurrent sessions; a connection is bound to exactly one
// identity for its whole life.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]map[string]Connection
	identities map[string]string // connID -> identity
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]map[string]Connection),
		identities: make(map[string]string),
	}
}

// Register binds conn to identity and returns the identity's session count.
// added is false when the handle was already registered, in which case the
// existing binding is kept.
func (r *Registry) Register(identity string, conn Connection) (sessions int, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bound, ok := r.identities[conn.ID()]; ok {
		return len(r.byIdentity[bound]), false
	}

	sessionSet := r.byIdentity[identity]
	if sessionSet == nil {
		sessionSet = make(map[string]Connection)
		r.byIdentity[identity] = sessionSet
	}
	sessionSet[conn.ID()] = conn
	r.identities[conn.ID()] = identity

	return len(sessionSet), true
}

// Unregister removes the binding of conn. It is a no-op when conn is not
// registered. remaining is the number of sessions the identity still holds.
func (r *Registry) Unregister(conn Connection) (identity string, remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[conn.ID()]
	if !ok {
		return "", 0, false
	}
	delete(r.identities, conn.ID())

	sessionSet := r.byIdentity[identity]
	delete(sessionSet, conn.ID())
	remaining = len(sessionSet)
	if remaining == 0 {
		delete(r.byIdentity, identity)
	}
	return identity, remaining, true
}

// IdentityOf returns the identity bound to a connection handle.
func (r *Registry) IdentityOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[connID]
	return identity, ok
}

// ConnectionsOf returns a snapshot of the open connections of identity.
func (r *Registry) ConnectionsOf(identity string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionSet := r.byIdentity[identity]
	conns := make([]Connection, 0, len(sessionSet))
	for _, c := range sessionSet {
		conns = append(conns, c)
	}
	return conns
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.identities))
	for _, sessionSet := range r.byIdentity {
		for _, c := range sessionSet {
			conns = append(conns, c)
		}
	}
	return conns
}

// Identities returns the identities with at least one connection, sorted.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byIdentity))
	for identity := range r.byIdentity {
		out = append(out, identity)
	}
	r.mu.RUnlock()

	slices.Sort(out)
	return out
}

// Count returns the number of online identities and open connections.
func (r *Registry) Count() (identities, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity), len(r.identities)
}
