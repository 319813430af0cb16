// Package signaling implements the Signaling service: the client registry,
// call lifecycle, and authoritative event source that fans out control
// events to Relay and Transcriber. Signaling exclusively owns the user
// registry and the authoritative call map.
package signaling

import (
	"sort"
	"sync"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

// userKey identifies a user record: at most one live record exists per
// (cohort, username) with an open signaling channel.
type userKey struct {
	cohort   callstate.Cohort
	username string
}

// userEntry is the registry's record for one registered user: its signaling
// channel and source address.
type userEntry struct {
	conn *transport.Conn
	addr string
}

// call is Signaling's authoritative call record:
// caller/callee usernames and cohorts, plus — on the Signaling side only —
// the two signaling channels, so accept_call/call_rejected/hang_up can be
// delivered without a second registry lookup.
type call struct {
	id          string
	caller      string
	callee      string
	callerGroup callstate.Cohort
	calleeGroup callstate.Cohort
	callerConn  *transport.Conn
	calleeConn  *transport.Conn
	language    string
}

// registry is Signaling's single owned bundle of mutable state: the user
// registry and the authoritative call map. All mutations are serialized by
// mu; broadcasts and fan-out sends happen after releasing mu so that a slow
// network write never blocks another client's event.
type registry struct {
	mu    sync.Mutex
	users map[userKey]*userEntry
	calls map[string]*call
}

func newRegistry() *registry {
	return &registry{
		users: make(map[userKey]*userEntry),
		calls: make(map[string]*call),
	}
}

// The registry defines no sentinel errors: callers in service.go construct
// protocol.Error directly, since the exact wire message varies per
// operation. registry only reports yes/no outcomes.

// register inserts a user record, replacing nothing: a taken name is a
// conflict error reported to the caller, never a silent takeover.
func (r *registry) register(key userKey, conn *transport.Conn, addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.users[key]; taken {
		return false
	}
	r.users[key] = &userEntry{conn: conn, addr: addr}
	return true
}

// unregister removes the user record if conn is still the one on file,
// mirroring relay's compare-and-delete discipline so a stale Handle
// goroutine from a replaced connection cannot evict a newer registration.
func (r *registry) unregister(key userKey, conn *transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.users[key]; ok && e.conn == conn {
		delete(r.users, key)
	}
}

// find looks up a registered user's signaling channel.
func (r *registry) find(cohort callstate.Cohort, username string) (*transport.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[userKey{cohort: cohort, username: username}]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// snapshot returns the sorted usernames of every registered user per cohort,
// for the `user_status` broadcast.
func (r *registry) snapshot() (sales, customers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.users {
		switch key.cohort {
		case callstate.Sales:
			sales = append(sales, key.username)
		case callstate.Customers:
			customers = append(customers, key.username)
		}
	}
	sort.Strings(sales)
	sort.Strings(customers)
	return sales, customers
}

// allConns returns every currently registered signaling channel, for
// broadcasting `user_status` to every open client channel.
func (r *registry) allConns() []*transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]*transport.Conn, 0, len(r.users))
	for _, e := range r.users {
		conns = append(conns, e.conn)
	}
	return conns
}

// addCall installs c if its ID is not already in use, reporting false on
// collision ("Call ID already in use").
func (r *registry) addCall(c *call) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[c.id]; exists {
		return false
	}
	r.calls[c.id] = c
	return true
}

// getCall returns the call record for id, if any.
func (r *registry) getCall(id string) (*call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	return c, ok
}

// removeCall deletes and returns the call record for id, if any.
func (r *registry) removeCall(id string) (*call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if ok {
		delete(r.calls, id)
	}
	return c, ok
}

// callsForUser returns the IDs of every call in which (cohort, username) is
// a participant, used to hang up every call a disconnecting user holds.
func (r *registry) callsForUser(cohort callstate.Cohort, username string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, c := range r.calls {
		if (c.caller == username && c.callerGroup == cohort) ||
			(c.callee == username && c.calleeGroup == cohort) {
			ids = append(ids, id)
		}
	}
	return ids
}

// userCount returns the number of currently registered users. The
// RegisteredUsers gauge is kept separately by service.go.
func (r *registry) userCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// callCount returns the number of currently active calls. The ActiveCalls
// gauge is kept separately by service.go.
func (r *registry) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
