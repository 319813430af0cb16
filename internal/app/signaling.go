package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vikram-naik/ws-stt-llm/internal/config"
	"github.com/vikram-naik/ws-stt-llm/internal/fanout"
	"github.com/vikram-naik/ws-stt-llm/internal/health"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/resilience"
	"github.com/vikram-naik/ws-stt-llm/internal/signaling"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

// SignalingApp owns the Signaling service's full process lifetime.
type SignalingApp struct {
	cfg config.SignalingConfig
	tls config.TLSConfig

	svc     *signaling.Service
	toRelay *fanout.Link
	toTrans *fanout.Link
	metrics *observe.Metrics

	closers  []func() error
	stopOnce sync.Once
}

// SignalingOption is a functional option for NewSignalingApp.
type SignalingOption func(*SignalingApp)

// WithSignalingMetrics injects a [*observe.Metrics] instead of the package
// default.
func WithSignalingMetrics(m *observe.Metrics) SignalingOption {
	return func(a *SignalingApp) { a.metrics = m }
}

// WithSignalingFanout injects the Relay/Transcriber fan-out links directly —
// used by tests to point at in-process fake listeners instead of dialling
// cfg.RelayAddr/TranscriberAddr.
func WithSignalingFanout(toRelay, toTranscriber *fanout.Link) SignalingOption {
	return func(a *SignalingApp) {
		a.toRelay = toRelay
		a.toTrans = toTranscriber
	}
}

// NewSignalingApp wires a SignalingApp from configuration. ctx is retained as
// the root context for best-effort fan-out sends, which must outlive any
// single client connection.
func NewSignalingApp(ctx context.Context, cfg config.SignalingConfig, resilienceCfg config.ResilienceConfig, tlsCfg config.TLSConfig, opts ...SignalingOption) *SignalingApp {
	a := &SignalingApp{cfg: cfg, tls: tlsCfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	breakerCfg := resilience.CircuitBreakerConfig{
		MaxFailures:  resilienceCfg.MaxFailures,
		ResetTimeout: time.Duration(resilienceCfg.ResetTimeoutSeconds * float64(time.Second)),
		HalfOpenMax:  resilienceCfg.HalfOpenMax,
	}
	if a.toRelay == nil {
		breakerCfg.Name = "signaling->relay"
		breakerCfg.OnStateChange = breakerStateRecorder(a.metrics, "relay")
		a.toRelay = fanout.New("relay", cfg.RelayAddr, resilience.NewCircuitBreaker(breakerCfg), a.metrics)
	}
	if a.toTrans == nil {
		breakerCfg.Name = "signaling->transcriber"
		breakerCfg.OnStateChange = breakerStateRecorder(a.metrics, "transcriber")
		a.toTrans = fanout.New("transcriber", cfg.TranscriberAddr, resilience.NewCircuitBreaker(breakerCfg), a.metrics)
	}
	a.svc = signaling.NewService(ctx, a.toRelay, a.toTrans, a.metrics)
	return a
}

// Run starts the client-facing WebSocket listener and the metrics/health
// listener and blocks until ctx is cancelled or either fails.
func (a *SignalingApp) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.ListenAndServeTLS(gctx, a.cfg.ListenAddr, "/signaling", a.tls.CertFile, a.tls.KeyFile, a.svc.Handle)
	})
	g.Go(func() error {
		return serveMetrics(gctx, a.cfg.MetricsAddr,
			health.BreakerCheck("relay", a.toRelay.Breaker()),
			health.BreakerCheck("transcriber", a.toTrans.Breaker()),
		)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("signaling app: %w", err)
	}
	return nil
}

// Shutdown releases the fan-out links and runs any closers registered via
// options/tests.
func (a *SignalingApp) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.toRelay.Close()
		a.toTrans.Close()
		for i := len(a.closers) - 1; i >= 0; i-- {
			closer := a.closers[i]
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("signaling app: closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
