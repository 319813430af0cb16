package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/resilience"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

// insightRequest/insightReply mirror the wire shapes
// internal/insight.Service speaks.
type insightRequest struct {
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

type insightReply struct {
	Event  string `json:"event"`
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

// InsightClient is insight-drain's lazily-(re)connected link to the Insight
// service: one request, exactly one reply, guarded by a circuit breaker so a
// down Insight process degrades to fast local failure instead of blocking
// the insight-drain task. A lost connection is tolerated: the next Infer
// redials, and failing that, the item is skipped.
//
// One client is shared by every per-call insight-drain task in the process,
// all multiplexed over a single connection with no request IDs on the wire —
// so mu is held for the entire write+read round trip, never just the
// connection bookkeeping. Without that, two concurrent Infer calls could
// interleave their writes and each collect the other's reply, delivering one
// call's commentary to another call's sales participant.
type InsightClient struct {
	url     string
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics

	// mu serializes whole round trips and guards conn.
	mu   sync.Mutex
	conn *transport.Conn
}

// NewInsightClient creates a client dialling url on first use.
func NewInsightClient(url string, breaker *resilience.CircuitBreaker, metrics *observe.Metrics) *InsightClient {
	return &InsightClient{url: url, breaker: breaker, metrics: metrics}
}

// Infer sends {call_id, text} and returns the insight reply's text verbatim.
// Round trips are serialized: a concurrent Infer from another call's
// insight-drain task waits until this one has collected its reply.
func (c *InsightClient) Infer(ctx context.Context, callID, text string) (string, error) {
	ctx, span := observe.StartCallSpan(ctx, "transcriber.insight_infer", callID)
	defer span.End()

	var replyText string
	err := c.breaker.Execute(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		conn, err := c.ensureLocked(ctx)
		if err != nil {
			return err
		}

		req, err := json.Marshal(insightRequest{CallID: callID, Text: text})
		if err != nil {
			return fmt.Errorf("insightclient: encode request: %w", err)
		}

		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.WriteText(writeCtx, req); err != nil {
			c.dropLocked()
			return err
		}

		readCtx, cancel2 := context.WithTimeout(ctx, 15*time.Second)
		defer cancel2()
		kind, data, err := conn.Read(readCtx)
		if err != nil {
			c.dropLocked()
			return err
		}
		if kind == transport.KindBinary {
			return fmt.Errorf("insightclient: unexpected binary reply")
		}

		var reply insightReply
		if err := json.Unmarshal(data, &reply); err != nil {
			return fmt.Errorf("insightclient: decode reply: %w", err)
		}
		replyText = reply.Text
		return nil
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordFanoutError(ctx, "insight")
		}
		return "", err
	}
	return replyText, nil
}

// ensureLocked returns the live connection, dialling a new one if necessary.
// Caller must hold c.mu.
func (c *InsightClient) ensureLocked(ctx context.Context) (*transport.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(dialCtx, c.url)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// dropLocked discards the current connection so the next Infer redials.
// Caller must hold c.mu.
func (c *InsightClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close releases the underlying connection, if any.
func (c *InsightClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

// Breaker exposes the circuit breaker guarding the Insight link, for
// readiness checks (health.BreakerCheck).
func (c *InsightClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}
