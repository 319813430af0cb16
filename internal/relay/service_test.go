package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/vikram-naik/ws-stt-llm/internal/callstate"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/protocol"
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

func startRelayServer(t *testing.T, svc *Service) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		svc.Handle(r.Context(), transport.New(ws), r.RemoteAddr)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAndRegister(t *testing.T, url, username string) (*transport.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	data, err := protocol.Encode(protocol.Envelope{Event: protocol.EventRegister, Username: username})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := conn.WriteText(ctx, data); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	return conn, ctx
}

func TestRelay_ForwardsFrameToLivePeer(t *testing.T) {
	svc := NewService(0, testMetrics(t))
	url := startRelayServer(t, svc)

	alice, aliceCtx := dialAndRegister(t, url, "alice")
	bob, bobCtx := dialAndRegister(t, url, "bob")

	callEnv, _ := protocol.Encode(protocol.Envelope{
		Event: protocol.EventCallAccepted, CallID: "c1", FromUser: "alice", ToUser: "bob",
		CallerGroup: "sales", CalleeGroup: "customers",
	})
	if err := alice.WriteText(aliceCtx, callEnv); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	frame := []byte{1, 2, 3, 4}
	if err := alice.WriteBinary(aliceCtx, frame); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}

	kind, data, err := bob.Read(bobCtx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if kind != transport.KindBinary {
		t.Fatalf("kind = %v, want binary", kind)
	}
	if string(data) != string(frame) {
		t.Errorf("data = %v, want %v", data, frame)
	}
}

func TestRelay_FrameWithNoRouteIsDropped(t *testing.T) {
	svc := NewService(0, testMetrics(t))
	url := startRelayServer(t, svc)

	alice, aliceCtx := dialAndRegister(t, url, "alice")
	// No call_accepted was ever sent, so alice has no routed peer; this must
	// not panic or block.
	if err := alice.WriteBinary(aliceCtx, []byte{9}); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}
}

func TestRegistry_RouteAfterCallEndedIsGone(t *testing.T) {
	r := newRegistry(0)
	call := callstate.Call{ID: "c1", Caller: "alice", Callee: "bob"}
	r.addCall(call)
	if _, _, ok := r.route("alice"); !ok {
		t.Fatal("expected a route before removeCall")
	}
	r.removeCall("c1")
	if _, _, ok := r.route("alice"); ok {
		t.Fatal("expected no route after removeCall")
	}
}

func TestRegistry_OverflowCapsAtConfiguredLimit(t *testing.T) {
	r := newRegistry(2)
	if !r.bufferFrame("k") {
		t.Fatal("first buffer should succeed")
	}
	if !r.bufferFrame("k") {
		t.Fatal("second buffer should succeed")
	}
	if r.bufferFrame("k") {
		t.Fatal("third buffer should fail — cap is 2")
	}
}
