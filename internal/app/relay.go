package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vikram-naik/ws-stt-llm/internal/config"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/relay"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
)

// RelayApp owns the Relay service's full process lifetime.
type RelayApp struct {
	cfg config.RelayConfig
	tls config.TLSConfig

	svc     *relay.Service
	metrics *observe.Metrics

	closers  []func() error
	stopOnce sync.Once
}

// RelayOption is a functional option for NewRelayApp, used to inject test
// doubles.
type RelayOption func(*RelayApp)

// WithRelayMetrics injects a [*observe.Metrics] instead of the package
// default.
func WithRelayMetrics(m *observe.Metrics) RelayOption {
	return func(a *RelayApp) { a.metrics = m }
}

// NewRelayApp wires a RelayApp from configuration.
func NewRelayApp(cfg config.RelayConfig, tlsCfg config.TLSConfig, opts ...RelayOption) *RelayApp {
	a := &RelayApp{cfg: cfg, tls: tlsCfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.svc = relay.NewService(cfg.OverflowBufferFrames, a.metrics)
	return a
}

// Run starts the client-facing WebSocket listener and the metrics/health
// listener and blocks until ctx is cancelled or either fails.
func (a *RelayApp) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.ListenAndServeTLS(gctx, a.cfg.ListenAddr, "/relay", a.tls.CertFile, a.tls.KeyFile, a.svc.Handle)
	})
	g.Go(func() error {
		return serveMetrics(gctx, a.cfg.MetricsAddr)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("relay app: %w", err)
	}
	return nil
}

// Shutdown releases resources. Relay holds nothing beyond its in-process
// connection registry, so this only runs any closers registered via
// options/tests.
func (a *RelayApp) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			closer := a.closers[i]
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("relay app: closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
