package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/vikram-naik/ws-stt-llm/internal/config"
	"github.com/vikram-naik/ws-stt-llm/internal/insight"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
	"github.com/vikram-naik/ws-stt-llm/internal/transport"
	insightprovider "github.com/vikram-naik/ws-stt-llm/pkg/provider/insight"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/insight/anyllm"
	"github.com/vikram-naik/ws-stt-llm/pkg/provider/insight/openai"
)

// InsightApp owns the Insight service's full process lifetime.
type InsightApp struct {
	cfg config.InsightConfig
	tls config.TLSConfig

	svc      *insight.Service
	provider insightprovider.Provider
	metrics  *observe.Metrics

	closers  []func() error
	stopOnce sync.Once
}

// InsightOption is a functional option for NewInsightApp, used to inject test
// doubles.
type InsightOption func(*InsightApp)

// WithInsightMetrics injects a [*observe.Metrics] instead of the package
// default.
func WithInsightMetrics(m *observe.Metrics) InsightOption {
	return func(a *InsightApp) { a.metrics = m }
}

// WithInsightProvider injects a provider directly, bypassing
// buildInsightProvider. Used by tests to wire in pkg/provider/insight/mock.
func WithInsightProvider(p insightprovider.Provider) InsightOption {
	return func(a *InsightApp) { a.provider = p }
}

// NewInsightApp wires an InsightApp from configuration. It returns an error
// if cfg names a provider that cannot be constructed.
func NewInsightApp(cfg config.InsightConfig, tlsCfg config.TLSConfig, opts ...InsightOption) (*InsightApp, error) {
	a := &InsightApp{cfg: cfg, tls: tlsCfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.provider == nil {
		p, err := buildInsightProvider(cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("insight app: %w", err)
		}
		a.provider = p
	}
	a.svc = insight.NewService(a.provider, a.metrics)
	return a, nil
}

// buildInsightProvider constructs the configured insight.Provider backend
// from a config.ProviderEntry.
func buildInsightProvider(entry config.ProviderEntry) (insightprovider.Provider, error) {
	switch entry.Name {
	case "", "anyllm":
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(providerNameOrDefault(entry), entry.Model, opts...)
	case "openai":
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		opts = append(opts, openai.WithTimeout(30*time.Second))
		return openai.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown insight provider %q", entry.Name)
	}
}

// providerNameOrDefault resolves the any-llm-go backend name to dial. Options
// map carries an optional "backend" override (e.g. "ollama", "anthropic");
// absent that, "llamacpp" is the local default.
func providerNameOrDefault(entry config.ProviderEntry) string {
	if backend, ok := entry.Options["backend"].(string); ok && backend != "" {
		return backend
	}
	return "llamacpp"
}

// Run starts the client-facing WebSocket listener and the metrics/health
// listener and blocks until ctx is cancelled or either fails.
func (a *InsightApp) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.ListenAndServeTLS(gctx, a.cfg.ListenAddr, "/insight", a.tls.CertFile, a.tls.KeyFile, a.svc.Handle)
	})
	g.Go(func() error {
		return serveMetrics(gctx, a.cfg.MetricsAddr)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("insight app: %w", err)
	}
	return nil
}

// Shutdown releases the provider's underlying client and runs any closers
// registered via options/tests.
func (a *InsightApp) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.provider != nil {
			if err := a.provider.Close(); err != nil {
				slog.Warn("insight app: provider close error", "err", err)
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			closer := a.closers[i]
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("insight app: closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
