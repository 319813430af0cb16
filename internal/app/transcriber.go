package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vikram-naik/ws-stt-llm/internal/config"
	"github.com/vikram-naik/ws-stt-llm/internal/health"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/resilience"
	"github.com/vikram-naik/ws-stt-llm/internal/transcriber"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/recognizer/whisper"
)

// TranscriberApp owns the Transcriber service's full process lifetime: the
// recognizer backend, the link to Insight, and the per-call recognition and
// insight-drain pipeline.
type TranscriberApp struct {
	cfg config.TranscriberConfig
	tls config.TLSConfig

	svc           *transcriber.Service
	recognizer    recognizer.Provider
	insightClient *transcriber.InsightClient
	metrics       *observe.Metrics

	closers  []func() error
	stopOnce sync.Once
}

// TranscriberOption is a functional option for NewTranscriberApp, used to
// inject test doubles.
type TranscriberOption func(*TranscriberApp)

// WithTranscriberMetrics injects a [*observe.Metrics] instead of the package
// default.
func WithTranscriberMetrics(m *observe.Metrics) TranscriberOption {
	return func(a *TranscriberApp) { a.metrics = m }
}

// WithTranscriberRecognizer injects a recognizer.Provider directly, bypassing
// buildRecognizerProvider. Used by tests to wire in pkg/provider/recognizer/mock.
func WithTranscriberRecognizer(p recognizer.Provider) TranscriberOption {
	return func(a *TranscriberApp) { a.recognizer = p }
}

// WithTranscriberInsightClient injects an *InsightClient directly, bypassing
// cfg.InsightAddr dialling.
func WithTranscriberInsightClient(c *transcriber.InsightClient) TranscriberOption {
	return func(a *TranscriberApp) { a.insightClient = c }
}

// NewTranscriberApp wires a TranscriberApp from configuration. ctx is
// retained as the root context for per-call recognition/insight-drain tasks,
// which must outlive any single control connection.
func NewTranscriberApp(ctx context.Context, cfg config.TranscriberConfig, resilienceCfg config.ResilienceConfig, tlsCfg config.TLSConfig, opts ...TranscriberOption) (*TranscriberApp, error) {
	a := &TranscriberApp{cfg: cfg, tls: tlsCfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.recognizer == nil {
		p, err := buildRecognizerProvider(cfg.Recognizer)
		if err != nil {
			return nil, fmt.Errorf("transcriber app: %w", err)
		}
		a.recognizer = p
	}
	if a.insightClient == nil {
		breakerCfg := resilience.CircuitBreakerConfig{
			Name:          "transcriber->insight",
			MaxFailures:   resilienceCfg.MaxFailures,
			ResetTimeout:  time.Duration(resilienceCfg.ResetTimeoutSeconds * float64(time.Second)),
			HalfOpenMax:   resilienceCfg.HalfOpenMax,
			OnStateChange: breakerStateRecorder(a.metrics, "insight"),
		}
		a.insightClient = transcriber.NewInsightClient(cfg.InsightAddr, resilience.NewCircuitBreaker(breakerCfg), a.metrics)
	}
	a.svc = transcriber.NewService(ctx, a.recognizer, a.insightClient, cfg.Recognition, cfg.PCMQueueSize, cfg.InsightQueueSize, a.metrics)
	return a, nil
}

// buildRecognizerProvider constructs the configured recognizer.Provider
// backend from a config.ProviderEntry.
func buildRecognizerProvider(entry config.ProviderEntry) (recognizer.Provider, error) {
	switch entry.Name {
	case "", "whisper-native":
		return whisper.New(entry.ModelPath)
	default:
		return nil, fmt.Errorf("unknown recognizer provider %q", entry.Name)
	}
}

// Run starts the client-facing WebSocket listener and the metrics/health
// listener and blocks until ctx is cancelled or either fails.
func (a *TranscriberApp) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.ListenAndServeTLS(gctx, a.cfg.ListenAddr, "/transcriber", a.tls.CertFile, a.tls.KeyFile, a.svc.Handle)
	})
	g.Go(func() error {
		return serveMetrics(gctx, a.cfg.MetricsAddr,
			health.BreakerCheck("insight", a.insightClient.Breaker()),
		)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("transcriber app: %w", err)
	}
	return nil
}

// Shutdown releases the recognizer backend and the Insight link, and runs
// any closers registered via options/tests.
func (a *TranscriberApp) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.recognizer != nil {
			if err := a.recognizer.Close(); err != nil {
				slog.Warn("transcriber app: recognizer close error", "err", err)
			}
		}
		a.insightClient.Close()
		for i := len(a.closers) - 1; i >= 0; i-- {
			closer := a.closers[i]
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("transcriber app: closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
