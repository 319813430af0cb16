package relay

import (
	"context"
	"log/slog"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/protocol"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

// Service implements the Relay control surface and binary forwarding path.
type Service struct {
	reg     *registry
	metrics *observe.Metrics
}

// NewService constructs a Service with a per-sender overflow cap of
// overflowCap frames (0 uses the default of 50).
func NewService(overflowCap int, metrics *observe.Metrics) *Service {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Service{reg: newRegistry(overflowCap), metrics: metrics}
}

// Handle is a transport.Handler: the per-connection read loop for every
// channel Relay accepts. A channel may be a media client (which sends
// register then a stream of binary frames) or Signaling's fan-out link
// (which sends only call_accepted/call_ended/call_rejected/logout control
// frames)
// — both share this accept path since dispatch is driven entirely by the
// event tag, never by connection identity.
func (s *Service) Handle(ctx context.Context, conn *transport.Conn, remoteAddr string) {
	defer conn.Close()
	var username string

	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			if username != "" {
				s.reg.unregister(username, conn)
			}
			return
		}

		if kind == transport.KindBinary {
			if username == "" {
				continue
			}
			s.forward(ctx, username, data)
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("relay: malformed frame", "remote_addr", remoteAddr, "err", err)
			continue
		}
		s.metrics.RecordEvent(ctx, "relay", string(env.Event))

		switch env.Event {
		case protocol.EventRegister:
			username = env.Username
			s.reg.register(username, conn)

		case protocol.EventCallAccepted:
			s.reg.addCall(callstate.Call{
				ID:          env.CallID,
				Caller:      env.FromUser,
				Callee:      env.ToUser,
				CallerGroup: callstate.Cohort(env.CallerGroup),
				CalleeGroup: callstate.Cohort(env.CalleeGroup),
			})

		case protocol.EventCallEnded, protocol.EventCallRejected:
			s.reg.removeCall(env.CallID)

		case protocol.EventLogout:
			// Relay's own client registration is tied to connection
			// lifecycle, not to Signaling's user registry; logout carries
			// no action here beyond what disconnection already does.

		default:
			slog.Warn("relay: unrecognised event", "event", env.Event)
		}
	}
}

// forward routes a binary frame from username to its call peer verbatim.
// If the peer has no live channel the frame is absorbed into the sender's
// overflow buffer (capped at the configured size) rather than delivered
// later — the buffer is strictly a short-outage absorber.
func (s *Service) forward(ctx context.Context, username string, frame []byte) {
	peer, key, ok := s.reg.route(username)
	if !ok {
		return
	}
	if peer != nil {
		if err := peer.WriteBinary(ctx, frame); err == nil {
			s.metrics.FramesForwarded.Add(ctx, 1)
			return
		}
	}
	if s.reg.bufferFrame(key) {
		s.metrics.FramesBuffered.Add(ctx, 1)
	} else {
		s.metrics.FramesDropped.Add(ctx, 1)
		slog.Warn("relay: overflow buffer full, dropping frame", "sender", username)
	}
}
