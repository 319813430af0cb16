// Package insight implements the Insight service: a stateless request/reply
// endpoint that turns one customer final transcript into a short structured
// commentary for the sales participant. No call state is retained across
// requests; the wire request carries no `event` tag, so this package
// decodes its own minimal JSON shape rather than protocol.Envelope.
package insight

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
	insightprovider "github.com/vikram-naik/ws-stt-llm/pkg/provider/insight"
)

// request is the wire shape of a single inference request.
type request struct {
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

// response is the wire shape of the `insight` reply.
type response struct {
	Event  string `json:"event"`
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

// Service implements the Insight control surface: one operation, `infer`,
// handled serially per channel. It holds one shared Provider instance
// across every channel.
type Service struct {
	provider insightprovider.Provider
	metrics  *observe.Metrics
}

// NewService constructs a Service backed by provider, shared across every
// accepted channel.
func NewService(provider insightprovider.Provider, metrics *observe.Metrics) *Service {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Service{provider: provider, metrics: metrics}
}

// Handle is a transport.Handler: the per-connection read loop. Each text
// frame is one infer request; requests on the same channel are processed
// strictly in receive order. Errors are logged and silently dropped — the
// caller receives no reply.
func (s *Service) Handle(ctx context.Context, conn *transport.Conn, remoteAddr string) {
	defer conn.Close()

	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if kind == transport.KindBinary {
			slog.Warn("insight: unexpected binary frame, ignoring", "remote_addr", remoteAddr)
			continue
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("insight: malformed request, dropping", "remote_addr", remoteAddr, "err", err)
			continue
		}
		s.metrics.RecordEvent(ctx, "insight", "infer")

		spanCtx, span := observe.StartCallSpan(ctx, "insight.infer", req.CallID)
		start := time.Now()
		result, err := s.provider.Infer(spanCtx, req.CallID, req.Text)
		s.metrics.InsightDuration.Record(ctx, time.Since(start).Seconds())
		span.End()
		if err != nil {
			slog.Warn("insight: infer failed, dropping request", "call_id", req.CallID, "err", err)
			continue
		}

		out, err := json.Marshal(response{Event: "insight", CallID: req.CallID, Text: result.Text})
		if err != nil {
			slog.Warn("insight: encode reply failed, dropping", "call_id", req.CallID, "err", err)
			continue
		}
		if err := conn.WriteText(ctx, out); err != nil {
			slog.Warn("insight: write reply failed", "call_id", req.CallID, "err", err)
			return
		}
	}
}
