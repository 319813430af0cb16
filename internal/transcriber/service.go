package transcriber

import (
	"context"
	"log/slog"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/config"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/protocol"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer"
)

const defaultQueueSize = 50

// Service implements the Transcriber control surface and the binary PCM
// ingestion path. It mirrors Relay's control surface
// (register/call_accepted/call_ended/call_rejected) plus the extra
// per-client `language` attribute and the recognition/insight pipeline.
type Service struct {
	reg              *registry
	recognizer       recognizer.Provider
	insightClient    *InsightClient
	recCfg           config.RecognitionConfig
	pcmQueueSize     int
	insightQueueSize int
	metrics          *observe.Metrics

	// rootCtx is a long-lived context for per-call session work (recognizer
	// invocations, sales-side dispatch, Insight calls), independent of any
	// single client or control connection's lifetime.
	rootCtx context.Context
}

// NewService constructs a Service. rootCtx should be the application's root
// context, cancelled only at process shutdown.
func NewService(
	rootCtx context.Context,
	provider recognizer.Provider,
	insightClient *InsightClient,
	recCfg config.RecognitionConfig,
	pcmQueueSize, insightQueueSize int,
	metrics *observe.Metrics,
) *Service {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if pcmQueueSize <= 0 {
		pcmQueueSize = defaultQueueSize
	}
	if insightQueueSize <= 0 {
		insightQueueSize = defaultQueueSize
	}
	return &Service{
		reg:              newRegistry(),
		recognizer:       provider,
		insightClient:    insightClient,
		recCfg:           recCfg,
		pcmQueueSize:     pcmQueueSize,
		insightQueueSize: insightQueueSize,
		metrics:          metrics,
		rootCtx:          rootCtx,
	}
}

// Handle is a transport.Handler: the per-connection read loop for every
// channel Transcriber accepts — a media client (register then a stream of
// binary PCM) or Signaling's fan-out link (control frames only), dispatched
// purely by event tag like Relay.
func (s *Service) Handle(ctx context.Context, c *transport.Conn, remoteAddr string) {
	defer c.Close()
	var username string

	for {
		kind, data, err := c.Read(ctx)
		if err != nil {
			if username != "" {
				s.reg.unregister(username, c)
			}
			return
		}

		if kind == transport.KindBinary {
			if username == "" {
				continue
			}
			s.ingest(username, data)
			continue
		}

		env, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			slog.Warn("transcriber: malformed frame", "remote_addr", remoteAddr, "err", decodeErr)
			continue
		}
		s.metrics.RecordEvent(ctx, "transcriber", string(env.Event))

		switch env.Event {
		case protocol.EventRegister:
			username = env.Username
			s.reg.register(username, env.Language, c)

		case protocol.EventCallAccepted:
			s.createSession(callstate.Call{
				ID:          env.CallID,
				Caller:      env.FromUser,
				Callee:      env.ToUser,
				CallerGroup: callstate.Cohort(env.CallerGroup),
				CalleeGroup: callstate.Cohort(env.CalleeGroup),
				Language:    env.Language,
			})

		case protocol.EventCallEnded, protocol.EventCallRejected:
			s.teardownSession(env.CallID)

		case protocol.EventLogout:
			// Transcriber's own client registration is tied to connection
			// lifecycle, not to Signaling's user registry; logout carries
			// no action here beyond what disconnection already does.

		default:
			slog.Warn("transcriber: unrecognised event", "event", env.Event)
		}
	}
}

// ingest attributes a binary PCM frame to its sender's current call and
// enqueues it onto that call's recognition queue. A frame with no current call is discarded.
func (s *Service) ingest(username string, pcm []byte) {
	session, cohort, ok := s.reg.sessionForSender(username)
	if !ok {
		return
	}
	item := pcmItem{speaker: cohort, username: username, pcm: pcm}
	select {
	case session.pcmQueue <- item:
		s.metrics.RecordQueueDepth(s.rootCtx, "recognition", 1)
	default:
		slog.Warn("transcriber: PCM queue full, dropping frame", "call_id", session.callID, "username", username)
	}
}

// createSession starts a recognizer session for call: two speaker
// sub-records, a bounded PCM queue, a bounded insight queue, and the
// recognition-drain/insight-drain tasks.
func (s *Service) createSession(call callstate.Call) {
	caller, err := s.newSpeaker(call.Caller, call.CallerGroup, call.Language)
	if err != nil {
		slog.Error("transcriber: failed to start caller recognizer session", "call_id", call.ID, "err", err)
		return
	}
	callee, err := s.newSpeaker(call.Callee, call.CalleeGroup, call.Language)
	if err != nil {
		slog.Error("transcriber: failed to start callee recognizer session", "call_id", call.ID, "err", err)
		caller.sess.Close()
		return
	}

	salesUsername, hasSales := call.SalesUser()
	session := &callSession{
		callID:        call.ID,
		caller:        caller,
		callee:        callee,
		salesUsername: salesUsername,
		hasSales:      hasSales,
		pcmQueue:      make(chan pcmItem, s.pcmQueueSize),
		insightQueue:  make(chan insightItem, s.insightQueueSize),
		done:          make(chan struct{}),
	}

	if !s.reg.addSession(call, session) {
		slog.Warn("transcriber: session already active, ignoring duplicate call_accepted", "call_id", call.ID)
		caller.sess.Close()
		callee.sess.Close()
		return
	}

	go s.runRecognitionDrain(session)
	go s.runInsightDrain(session)
}

// newSpeaker resolves the authoritative language for username (its own
// Transcriber `register` language takes precedence over the Signaling
// accept_call hint) and opens a recognizer
// session bound to it.
func (s *Service) newSpeaker(username string, cohort callstate.Cohort, hintLanguage string) (*speakerState, error) {
	language := s.reg.languageFor(username)
	if language == "" {
		language = hintLanguage
	}
	if language == "" {
		language = "en"
	}
	sess, err := s.recognizer.NewSession(language)
	if err != nil {
		return nil, err
	}
	return &speakerState{username: username, cohort: cohort, language: language, sess: sess}, nil
}

// teardownSession posts sentinels to both per-call queues (asynchronously, so a full queue can
// never block the control-event path), finalizes any still-buffered PCM,
// and destroys the session.
func (s *Service) teardownSession(callID string) {
	session, ok := s.reg.removeSession(callID)
	if !ok {
		return
	}
	go func() { session.pcmQueue <- pcmItem{sentinel: true} }()
}
