// Package fanout implements Signaling's best-effort outbound control-event
// links to Relay and Transcriber: a
// persistent connection opened lazily, guarded by a circuit breaker, that
// never blocks or aborts the client operation that triggered the send.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/protocol"
	"github.com/vikram-naik/ws-stt-llm/internal/resilience"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

// Link is a lazily-(re)connected outbound control channel to one downstream
// service. A failed send drops the connection; the next Send call redials
// before trying again. All of this is invisible to the caller: Send never
// returns an error.
type Link struct {
	target  string
	url     string
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics

	mu   sync.Mutex
	conn *transport.Conn
}

// New creates a Link to the downstream service named target (used in logs
// and metrics) reachable at url. The connection is not established until
// the first Send.
func New(target, url string, breaker *resilience.CircuitBreaker, metrics *observe.Metrics) *Link {
	return &Link{target: target, url: url, breaker: breaker, metrics: metrics}
}

// Send best-effort delivers env to the downstream service. Failures are
// logged and counted; the connection is dropped so the next call redials.
// Send blocks at most for a lazy redial (when no connection is open) and
// the single write call, which has a 5-second timeout; it never surfaces an
// error to the caller.
func (l *Link) Send(ctx context.Context, env protocol.Envelope) {
	start := time.Now()
	err := l.breaker.Execute(func() error {
		conn, err := l.ensure(ctx)
		if err != nil {
			return err
		}
		data, err := protocol.Encode(env)
		if err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.WriteText(writeCtx, data); err != nil {
			l.drop()
			return err
		}
		return nil
	})
	if l.metrics != nil {
		l.metrics.FanoutDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		slog.Warn("fan-out send failed, will reconnect lazily", "target", l.target, "event", env.Event, "err", err)
		if l.metrics != nil {
			l.metrics.RecordFanoutError(ctx, l.target)
		}
	}
}

// ensure returns the live connection, dialling a new one if necessary.
func (l *Link) ensure(ctx context.Context) (*transport.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(dialCtx, l.url)
	if err != nil {
		return nil, err
	}
	l.conn = conn
	return conn, nil
}

// drop discards the current connection so the next Send redials.
func (l *Link) drop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

// Close releases the underlying connection, if any.
func (l *Link) Close() {
	l.drop()
}

// Breaker exposes the circuit breaker guarding this link, for readiness
// checks (health.BreakerCheck) that surface a tripped downstream target
// independently of the wsstt.breaker.state gauge.
func (l *Link) Breaker() *resilience.CircuitBreaker {
	return l.breaker
}
