// Package relay implements the Relay service: peer-to-peer forwarding of
// encoded audio frames between the two participants of a call. Relay holds no authoritative state — its call-routing records are
// a write-only-from-Signaling shadow of the authoritative call map held by
// Signaling.
package relay

import (
	"sync"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

const defaultOverflowFrames = 50

// registry is Relay's single owned bundle of mutable state: registered
// client channels, call routing records, per-sender overflow counts, and
// the username→call_id index used to resolve a binary frame's peer in
// constant time. All mutations are serialized by mu; network writes never
// happen while mu is held.
type registry struct {
	overflowCap int

	mu         sync.Mutex
	clients    map[string]*transport.Conn // username -> channel
	calls      map[string]callstate.Call  // call_id -> routing record
	senderCall map[string]string          // username -> call_id currently routed

	// overflow counts frames absorbed per (call_id, sender). The bytes
	// themselves are never replayed once a peer later appears, so only the
	// count needed to detect the overflowCap limit is retained.
	overflow map[string]int
}

func newRegistry(overflowCap int) *registry {
	if overflowCap <= 0 {
		overflowCap = defaultOverflowFrames
	}
	return &registry{
		overflowCap: overflowCap,
		clients:     make(map[string]*transport.Conn),
		calls:       make(map[string]callstate.Call),
		senderCall:  make(map[string]string),
		overflow:    make(map[string]int),
	}
}

// register records conn under username, replacing any previous channel for
// that username.
func (r *registry) register(username string, conn *transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[username] = conn
}

// unregister removes conn's channel if it is still the one on file for
// username. Active calls are left untouched — they are only removed by an
// explicit call_ended/call_rejected control event.
func (r *registry) unregister(username string, conn *transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[username] == conn {
		delete(r.clients, username)
	}
}

// addCall installs a routing record and points both participants' sender
// index at it, overwriting any call either was previously routed to.
func (r *registry) addCall(call callstate.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ID] = call
	r.senderCall[call.Caller] = call.ID
	r.senderCall[call.Callee] = call.ID
}

// removeCall deletes the routing record and any sender-index and overflow
// entries that still point at it.
func (r *registry) removeCall(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[callID]
	if !ok {
		return
	}
	delete(r.calls, callID)
	for _, user := range []string{call.Caller, call.Callee} {
		if r.senderCall[user] == callID {
			delete(r.senderCall, user)
		}
		delete(r.overflow, callID+"|"+user)
	}
}

// route resolves the peer channel for a frame sent by username, along with
// the overflow-counter key to use if the peer is unreachable. ok is false
// if username has no current call routed.
func (r *registry) route(username string) (peer *transport.Conn, bufferKey string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	callID, has := r.senderCall[username]
	if !has {
		return nil, "", false
	}
	call, has := r.calls[callID]
	if !has {
		return nil, "", false
	}
	peerUser, has := call.Peer(username)
	if !has {
		return nil, "", false
	}
	return r.clients[peerUser], callID + "|" + username, true
}

// bufferFrame records one absorbed frame against key, reporting whether the
// overflowCap limit (50 frames by default) still had room.
func (r *registry) bufferFrame(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overflow[key] >= r.overflowCap {
		return false
	}
	r.overflow[key]++
	return true
}
