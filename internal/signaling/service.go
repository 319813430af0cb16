package signaling

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/fanout"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/protocol"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

// Service implements the Signaling control surface: client
// registry, call lifecycle, and best-effort fan-out of control events to
// Relay and Transcriber.
type Service struct {
	reg          *registry
	toRelay      *fanout.Link
	toTranscribe *fanout.Link
	metrics      *observe.Metrics

	// fanoutCtx is a long-lived context used for fan-out sends, independent
	// of any single client connection's lifetime — a fan-out must not be
	// cancelled just because the client that triggered it later disconnects.
	fanoutCtx context.Context
}

// NewService constructs a Service. fanoutCtx should be the application's root
// context (cancelled only at process shutdown); toRelay and toTranscriber are
// the persistent best-effort outbound control links.
func NewService(fanoutCtx context.Context, toRelay, toTranscriber *fanout.Link, metrics *observe.Metrics) *Service {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Service{
		reg:          newRegistry(),
		toRelay:      toRelay,
		toTranscribe: toTranscriber,
		metrics:      metrics,
		fanoutCtx:    fanoutCtx,
	}
}

// identity is the per-connection state not shared with other connections: the
// identity a channel registers under, if any. Held as a plain local in
// Handle rather than in the registry, mirroring relay.Service.Handle's
// username variable.
type identity struct {
	cohort   callstate.Cohort
	username string
	set      bool
}

// Handle is a transport.Handler: the per-connection read loop for a client's
// signaling channel. Messages on one channel are processed strictly in
// receive order.
func (s *Service) Handle(ctx context.Context, c *transport.Conn, remoteAddr string) {
	defer c.Close()
	var id identity

	for {
		kind, data, err := c.Read(ctx)
		if err != nil {
			if id.set {
				s.disconnect(id, c)
			}
			return
		}
		if kind == transport.KindBinary {
			slog.Warn("signaling: unexpected binary frame, ignoring", "remote_addr", remoteAddr)
			continue
		}

		env, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			s.reply(ctx, c, protocol.ErrorEnvelope(decodeErr))
			continue
		}
		s.metrics.RecordEvent(ctx, "signaling", string(env.Event))

		switch env.Event {
		case protocol.EventRegister:
			s.handleRegister(ctx, c, remoteAddr, &id, env)
		case protocol.EventCallUser:
			s.handleCallUser(ctx, c, id, env)
		case protocol.EventAcceptCall:
			s.handleAcceptCall(ctx, c, env)
		case protocol.EventCallRejected:
			s.handleTerminate(ctx, env.CallID, protocol.EventCallRejected)
		case protocol.EventHangUp:
			s.handleTerminate(ctx, env.CallID, protocol.EventHangUp)
		case protocol.EventLogout:
			s.handleLogout(ctx, &id)
		case protocol.EventPing:
			s.reply(ctx, c, protocol.Envelope{Event: protocol.EventPong, Timestamp: env.Timestamp})
		default:
			s.reply(ctx, c, protocol.ErrorEnvelope(protocol.NewError("Unknown event %q", env.Event)))
		}
	}
}

// reply writes env to c, logging (not propagating) a write failure — a
// broken outbound write will also surface as a Read error on the next loop
// iteration, which drives the normal disconnect path.
func (s *Service) reply(ctx context.Context, c *transport.Conn, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		slog.Error("signaling: encode failed", "event", env.Event, "err", err)
		return
	}
	if err := c.WriteText(ctx, data); err != nil {
		slog.Warn("signaling: write failed", "event", env.Event, "err", err)
	}
}

// handleRegister implements the `register` operation.
func (s *Service) handleRegister(ctx context.Context, c *transport.Conn, remoteAddr string, id *identity, env protocol.Envelope) {
	if err := protocol.RequireFields("group", env.Group, "username", env.Username); err != nil {
		s.reply(ctx, c, protocol.ErrorEnvelope(err))
		return
	}
	cohort := callstate.Cohort(env.Group)
	if !cohort.IsValid() {
		s.reply(ctx, c, protocol.ErrorEnvelope(protocol.NewError("Invalid group %q", env.Group)))
		return
	}
	key := userKey{cohort: cohort, username: env.Username}
	if !s.reg.register(key, c, remoteAddr) {
		s.reply(ctx, c, protocol.ErrorEnvelope(protocol.NewError("Username already taken")))
		return
	}
	*id = identity{cohort: cohort, username: env.Username, set: true}
	s.metrics.RegisteredUsers.Add(ctx, 1)

	s.reply(ctx, c, protocol.Envelope{Event: protocol.EventSetCookie, SessionID: uuid.NewString()})
	s.broadcastUserStatus(ctx)
}

// handleCallUser implements the `call_user` operation.
func (s *Service) handleCallUser(ctx context.Context, c *transport.Conn, id identity, env protocol.Envelope) {
	if err := protocol.RequireFields(
		"call_id", env.CallID,
		"to_user", env.ToUser,
		"from_group", env.FromGroup,
		"from_user", env.FromUser,
	); err != nil {
		s.reply(ctx, c, protocol.ErrorEnvelope(err))
		return
	}
	callerGroup := callstate.Cohort(env.FromGroup)
	if !callerGroup.IsValid() {
		s.reply(ctx, c, protocol.ErrorEnvelope(protocol.NewError("Invalid from_group %q", env.FromGroup)))
		return
	}
	calleeGroup := callerGroup.Opposite()

	calleeConn, ok := s.reg.find(calleeGroup, env.ToUser)
	if !ok {
		s.reply(ctx, c, protocol.ErrorEnvelope(protocol.NewError("User not found")))
		return
	}

	newCall := &call{
		id:          env.CallID,
		caller:      env.FromUser,
		callee:      env.ToUser,
		callerGroup: callerGroup,
		calleeGroup: calleeGroup,
		callerConn:  c,
		calleeConn:  calleeConn,
	}
	if !s.reg.addCall(newCall) {
		s.reply(ctx, c, protocol.ErrorEnvelope(protocol.NewError("Call ID already in use")))
		return
	}
	s.metrics.ActiveCalls.Add(ctx, 1)

	s.reply(ctx, calleeConn, protocol.Envelope{
		Event:    protocol.EventIncomingCall,
		CallID:   env.CallID,
		FromUser: env.FromUser,
	})
}

// handleAcceptCall implements `accept_call`: on hit, emits
// call_accepted to the caller's signaling channel and a matching control
// event to both Relay and Transcriber. On miss, replies `error{"Call not
// found"}` to the sender.
func (s *Service) handleAcceptCall(ctx context.Context, sender *transport.Conn, env protocol.Envelope) {
	c, ok := s.reg.getCall(env.CallID)
	if !ok {
		s.reply(ctx, sender, protocol.ErrorEnvelope(protocol.NewError("Call not found")))
		return
	}
	ctx, span := observe.StartCallSpan(ctx, "signaling.accept_call", env.CallID,
		observe.Attr("caller_group", string(c.callerGroup)),
		observe.Attr("callee_group", string(c.calleeGroup)),
	)
	defer span.End()

	language := env.Language
	if language == "" {
		language = "en"
	}
	c.language = language

	s.reply(ctx, c.callerConn, protocol.Envelope{
		Event:       protocol.EventCallAccepted,
		CallID:      c.id,
		FromUser:    c.caller,
		ToUser:      c.callee,
		CallerGroup: string(c.callerGroup),
		CalleeGroup: string(c.calleeGroup),
		Language:    language,
	})

	fanEnv := protocol.Envelope{
		Event:       protocol.EventCallAccepted,
		CallID:      c.id,
		FromUser:    c.caller,
		ToUser:      c.callee,
		CallerGroup: string(c.callerGroup),
		CalleeGroup: string(c.calleeGroup),
		Language:    language,
	}
	s.toRelay.Send(s.fanoutCtx, fanEnv)
	s.toTranscribe.Send(s.fanoutCtx, fanEnv)
}

// handleTerminate implements both `call_rejected` and `hang_up`: identical
// except for the event name echoed back.
func (s *Service) handleTerminate(ctx context.Context, callID string, trigger protocol.Event) {
	c, ok := s.reg.removeCall(callID)
	if !ok {
		return
	}
	s.metrics.ActiveCalls.Add(ctx, -1)

	outEvent := protocol.EventCallEnded
	if trigger == protocol.EventCallRejected {
		outEvent = protocol.EventCallRejected
	}
	s.reply(ctx, c.callerConn, protocol.Envelope{Event: outEvent, CallID: callID})
	s.reply(ctx, c.calleeConn, protocol.Envelope{Event: outEvent, CallID: callID})

	fanEnv := protocol.Envelope{Event: outEvent, CallID: callID}
	s.toRelay.Send(s.fanoutCtx, fanEnv)
	s.toTranscribe.Send(s.fanoutCtx, fanEnv)
}

// handleLogout implements explicit `logout`: destroys the user record,
// broadcasts user_status, emits a logout control event. Unlike
// disconnection, explicit logout does not hang up the user's active calls;
// only channel closure additionally hangs up every call the user holds.
func (s *Service) handleLogout(ctx context.Context, id *identity) {
	if !id.set {
		return
	}
	s.removeUser(ctx, *id)
	*id = identity{}
}

// disconnect handles channel closure: logout plus hang_up
// for every call the user participates in.
func (s *Service) disconnect(id identity, c *transport.Conn) {
	ctx := s.fanoutCtx
	callIDs := s.reg.callsForUser(id.cohort, id.username)
	s.removeUser(ctx, id)
	for _, callID := range callIDs {
		s.handleTerminate(ctx, callID, protocol.EventHangUp)
	}
}

// removeUser unregisters id and broadcasts the resulting user_status,
// shared by handleLogout and disconnect.
func (s *Service) removeUser(ctx context.Context, id identity) {
	conn, ok := s.reg.find(id.cohort, id.username)
	if !ok {
		return
	}
	s.reg.unregister(userKey{cohort: id.cohort, username: id.username}, conn)
	s.metrics.RegisteredUsers.Add(ctx, -1)
	s.toRelay.Send(ctx, protocol.Envelope{Event: protocol.EventLogout, Username: id.username})
	s.toTranscribe.Send(ctx, protocol.Envelope{Event: protocol.EventLogout, Username: id.username})
	s.broadcastUserStatus(ctx)
}

// broadcastUserStatus sends the current user_status snapshot to every
// registered signaling channel.
func (s *Service) broadcastUserStatus(ctx context.Context) {
	sales, customers := s.reg.snapshot()
	env := protocol.Envelope{Event: protocol.EventUserStatus, Sales: sales, Customers: customers}
	data, err := protocol.Encode(env)
	if err != nil {
		slog.Error("signaling: encode user_status failed", "err", err)
		return
	}
	for _, c := range s.reg.allConns() {
		if err := c.WriteText(ctx, data); err != nil {
			slog.Warn("signaling: broadcast write failed", "err", err)
		}
	}
}
