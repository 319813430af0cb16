package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/vikram-naik/ws-stt-llm/internal/fanout"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/protocol"
	"github.com/vikram-naik/ws-stt-llm/internal/resilience"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// unreachableLink builds a fan-out Link pointed at an address nothing
// listens on, exercising the real best-effort-failure path rather than a
// mock.
func unreachableLink(target string, metrics *observe.Metrics) *fanout.Link {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: target})
	return fanout.New(target, "ws://127.0.0.1:1/unreachable", breaker, metrics)
}

func startSignalingServer(t *testing.T) (url string, svc *Service) {
	t.Helper()
	metrics := testMetrics(t)
	svc = NewService(context.Background(), unreachableLink("relay", metrics), unreachableLink("transcriber", metrics), metrics)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		svc.Handle(r.Context(), transport.New(ws), r.RemoteAddr)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), svc
}

func dial(t *testing.T, url string) (*transport.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, ctx
}

func send(t *testing.T, ctx context.Context, conn *transport.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := conn.WriteText(ctx, data); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
}

func recv(t *testing.T, ctx context.Context, conn *transport.Conn) protocol.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func register(t *testing.T, ctx context.Context, conn *transport.Conn, group, username string) {
	t.Helper()
	send(t, ctx, conn, protocol.Envelope{Event: protocol.EventRegister, Group: group, Username: username})
	env := recv(t, ctx, conn)
	if env.Event != protocol.EventSetCookie {
		t.Fatalf("register reply event = %q, want %q", env.Event, protocol.EventSetCookie)
	}
	recv(t, ctx, conn) // the user_status broadcast triggered by this registration
}

func TestHandle_RegisterConflictReturnsError(t *testing.T) {
	url, _ := startSignalingServer(t)
	alice, ctx := dial(t, url)
	register(t, ctx, alice, "sales", "alice")

	impostor, ctx2 := dial(t, url)
	send(t, ctx2, impostor, protocol.Envelope{Event: protocol.EventRegister, Group: "sales", Username: "alice"})
	env := recv(t, ctx2, impostor)
	if env.Event != protocol.EventErrorEnvelope {
		t.Fatalf("event = %q, want %q", env.Event, protocol.EventErrorEnvelope)
	}
	if env.Message != "Username already taken" {
		t.Errorf("Message = %q, want %q", env.Message, "Username already taken")
	}
}

func TestHandle_CallUserToUnknownUserErrors(t *testing.T) {
	url, _ := startSignalingServer(t)
	alice, ctx := dial(t, url)
	register(t, ctx, alice, "sales", "alice")

	send(t, ctx, alice, protocol.Envelope{
		Event: protocol.EventCallUser, CallID: "c1", ToUser: "ghost", FromGroup: "sales", FromUser: "alice",
	})
	env := recv(t, ctx, alice)
	if env.Event != protocol.EventErrorEnvelope || env.Message != "User not found" {
		t.Fatalf("got %+v, want error{User not found}", env)
	}
}

func TestHandle_FullCallLifecycle(t *testing.T) {
	url, _ := startSignalingServer(t)
	alice, aliceCtx := dial(t, url)
	register(t, aliceCtx, alice, "sales", "alice")
	bob, bobCtx := dial(t, url)
	register(t, bobCtx, bob, "customers", "bob")
	recv(t, aliceCtx, alice) // bob's registration also broadcasts to alice

	send(t, aliceCtx, alice, protocol.Envelope{
		Event: protocol.EventCallUser, CallID: "c1", ToUser: "bob", FromGroup: "sales", FromUser: "alice",
	})
	incoming := recv(t, bobCtx, bob)
	if incoming.Event != protocol.EventIncomingCall || incoming.CallID != "c1" || incoming.FromUser != "alice" {
		t.Fatalf("got %+v, want incoming_call{c1, alice}", incoming)
	}

	send(t, bobCtx, bob, protocol.Envelope{Event: protocol.EventAcceptCall, CallID: "c1", Language: "en"})
	accepted := recv(t, aliceCtx, alice)
	if accepted.Event != protocol.EventCallAccepted || accepted.CallID != "c1" {
		t.Fatalf("got %+v, want call_accepted{c1} to caller", accepted)
	}

	send(t, aliceCtx, alice, protocol.Envelope{Event: protocol.EventHangUp, CallID: "c1"})
	aliceEnded := recv(t, aliceCtx, alice)
	if aliceEnded.Event != protocol.EventCallEnded {
		t.Errorf("caller got %+v, want call_ended", aliceEnded)
	}
	bobEnded := recv(t, bobCtx, bob)
	if bobEnded.Event != protocol.EventCallEnded {
		t.Errorf("callee got %+v, want call_ended", bobEnded)
	}
}

func TestHandle_AcceptCallMissReturnsError(t *testing.T) {
	url, _ := startSignalingServer(t)
	alice, ctx := dial(t, url)
	register(t, ctx, alice, "sales", "alice")

	send(t, ctx, alice, protocol.Envelope{Event: protocol.EventAcceptCall, CallID: "no-such-call"})
	env := recv(t, ctx, alice)
	if env.Event != protocol.EventErrorEnvelope || env.Message != "Call not found" {
		t.Fatalf("got %+v, want error{Call not found}", env)
	}
}

func TestHandle_LogoutDoesNotHangUpActiveCalls(t *testing.T) {
	url, svc := startSignalingServer(t)
	alice, aliceCtx := dial(t, url)
	register(t, aliceCtx, alice, "sales", "alice")
	bob, bobCtx := dial(t, url)
	register(t, bobCtx, bob, "customers", "bob")
	recv(t, aliceCtx, alice)

	send(t, aliceCtx, alice, protocol.Envelope{
		Event: protocol.EventCallUser, CallID: "c1", ToUser: "bob", FromGroup: "sales", FromUser: "alice",
	})
	recv(t, bobCtx, bob) // incoming_call
	send(t, bobCtx, bob, protocol.Envelope{Event: protocol.EventAcceptCall, CallID: "c1"})
	recv(t, aliceCtx, alice) // call_accepted

	send(t, aliceCtx, alice, protocol.Envelope{Event: protocol.EventLogout})
	recv(t, bobCtx, bob) // user_status broadcast triggered by alice's logout

	if got := svc.reg.callCount(); got != 1 {
		t.Errorf("callCount after logout = %d, want 1 (logout must not hang up active calls)", got)
	}
}

func TestHandle_PingPong(t *testing.T) {
	url, _ := startSignalingServer(t)
	alice, ctx := dial(t, url)
	register(t, ctx, alice, "sales", "alice")

	send(t, ctx, alice, protocol.Envelope{Event: protocol.EventPing, Timestamp: 42})
	env := recv(t, ctx, alice)
	if env.Event != protocol.EventPong || env.Timestamp != 42 {
		t.Fatalf("got %+v, want pong{42}", env)
	}
}
