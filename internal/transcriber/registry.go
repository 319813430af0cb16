// Package transcriber implements the Transcriber service: per-speaker
// incremental speech recognition, partial/final emission, silence gating,
// and an asynchronous insight-generation consumer that must not block the
// recognition path. Like Relay, Transcriber holds a
// write-only-from-Signaling shadow of Signaling's authoritative call map.
package transcriber

import (
	"sync"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer"
)

// speakerState is one speaker's bound incremental recognizer session plus
// the per-speaker accumulation buffer the recognition-drain algorithm feeds
// it from.
type speakerState struct {
	username    string
	cohort      callstate.Cohort
	language    string
	sess        recognizer.Session
	buffer      []byte
	lastPartial string
}

// callSession is the Transcriber's per-call recognizer session: two speaker
// sub-records, a bounded PCM queue, and a bounded insight queue, each
// drained by a dedicated task.
type callSession struct {
	callID        string
	caller        *speakerState
	callee        *speakerState
	salesUsername string
	hasSales      bool

	pcmQueue     chan pcmItem
	insightQueue chan insightItem

	// done is closed once recognition-drain has finished flushing and
	// exited, signalling insight-drain may also be torn down. Closed exactly
	// once by recognition-drain.
	done chan struct{}
}

// speakerByUsername returns the speaker sub-record for username, or nil if
// username is not a participant of this session.
func (s *callSession) speakerByUsername(username string) *speakerState {
	switch username {
	case s.caller.username:
		return s.caller
	case s.callee.username:
		return s.callee
	default:
		return nil
	}
}

// pcmItem is one queued item for a call's recognition-drain task: one
// speaker's PCM chunk, or a shutdown sentinel.
type pcmItem struct {
	sentinel bool
	speaker  callstate.Cohort
	username string
	pcm      []byte
}

// insightItem is one queued item for a call's insight-drain task, or a
// shutdown sentinel.
type insightItem struct {
	sentinel      bool
	callID        string
	text          string
	salesUsername string
}

// registry is Transcriber's single owned bundle of mutable state: registered
// client channels, each client's last-registered language, the shadow call
// map, the per-sender call index, and active recognizer sessions.
type registry struct {
	mu         sync.Mutex
	clients    map[string]*transport.Conn  // username -> channel
	languages  map[string]string           // username -> language
	calls      map[string]callstate.Call   // call_id -> routing shadow
	senderCall map[string]string           // username -> call_id currently routed
	sessions   map[string]*callSession     // call_id -> active recognizer session
}

func newRegistry() *registry {
	return &registry{
		clients:    make(map[string]*transport.Conn),
		languages:  make(map[string]string),
		calls:      make(map[string]callstate.Call),
		senderCall: make(map[string]string),
		sessions:   make(map[string]*callSession),
	}
}

// register records conn under username and remembers its declared language,
// replacing any previous entry.
func (r *registry) register(username, language string, conn *transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[username] = conn
	if language != "" {
		r.languages[username] = language
	}
}

// unregister removes conn's channel and language entry if conn is still the
// one on file for username.
func (r *registry) unregister(username string, conn *transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[username] == conn {
		delete(r.clients, username)
		delete(r.languages, username)
	}
}

// languageFor returns username's last registered language, or "" if unknown.
func (r *registry) languageFor(username string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.languages[username]
}

// findConn returns username's registered channel, if any.
func (r *registry) findConn(username string) (*transport.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[username]
	return c, ok
}

// addSession installs call and session if call.ID is not already active,
// pointing both participants' sender index at it. Reports false on
// collision — a duplicate call_accepted is a trusted upstream control
// event, not client input, so there is no wire error path for it.
func (r *registry) addSession(call callstate.Call, session *callSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[call.ID]; exists {
		return false
	}
	r.calls[call.ID] = call
	r.sessions[call.ID] = session
	r.senderCall[call.Caller] = call.ID
	r.senderCall[call.Callee] = call.ID
	return true
}

// sessionForSender resolves the active session and speaker cohort for a
// binary frame sent by username, used to attribute PCM to the right call and
// speaker.
func (r *registry) sessionForSender(username string) (*callSession, callstate.Cohort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	callID, ok := r.senderCall[username]
	if !ok {
		return nil, "", false
	}
	call, ok := r.calls[callID]
	if !ok {
		return nil, "", false
	}
	session, ok := r.sessions[callID]
	if !ok {
		return nil, "", false
	}
	switch username {
	case call.Caller:
		return session, call.CallerGroup, true
	case call.Callee:
		return session, call.CalleeGroup, true
	default:
		return nil, "", false
	}
}

// removeSession deletes the routing record and session for callID, if any,
// and clears the sender index entries that pointed at it.
func (r *registry) removeSession(callID string) (*callSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[callID]
	if !ok {
		return nil, false
	}
	session := r.sessions[callID]
	delete(r.calls, callID)
	delete(r.sessions, callID)
	for _, user := range []string{call.Caller, call.Callee} {
		if r.senderCall[user] == callID {
			delete(r.senderCall, user)
		}
	}
	return session, session != nil
}

// sessionCount returns the number of currently active recognizer sessions.
// No gauge reads it.
func (r *registry) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
