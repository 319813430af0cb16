// Package app wires each service's domain logic (internal/signaling,
// internal/relay, internal/transcriber, internal/insight) into a runnable
// process: functional-option construction, a blocking Run, and an
// ordered-closer Shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vikram-naik/ws-stt-llm/internal/health"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/resilience"
)

// serveMetrics runs the /healthz, /readyz, and /metrics HTTP server shared
// by every service. It blocks until ctx is cancelled, then shuts down with
// a bounded grace period.
func serveMetrics(ctx context.Context, addr string, checkers ...health.Checker) error {
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// breakerStateRecorder builds a [resilience.CircuitBreakerConfig.OnStateChange]
// callback that publishes a downstream circuit breaker's transitions as the
// wsstt.breaker.state gauge, labelled by target ("relay", "transcriber",
// "insight"). Used by every app to make a tripped downstream link
// externally observable without involving the originating client operation.
func breakerStateRecorder(metrics *observe.Metrics, target string) func(resilience.State) {
	return func(state resilience.State) {
		metrics.RecordBreakerState(context.Background(), target, int64(state))
	}
}
