// Command insight runs the Insight service: a stateless request/response
// language-model endpoint that turns a customer utterance into a short
// structured commentary for the sales side.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vikram-naik/ws-stt-llm/internal/app"
	"github.com/vikram-naik/ws-stt-llm/internal/config"
	"github.com/vikram-naik/ws-stt-llm/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "insight: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "insight: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("insight starting",
		"config", *configPath,
		"listen_addr", cfg.Insight.ListenAddr,
		"metrics_addr", cfg.Insight.MetricsAddr,
		"provider", cfg.Insight.Provider.Name,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "ws-stt-llm-insight"})
	if err != nil {
		slog.Error("failed to initialize telemetry providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.NewInsightApp(cfg.Insight, cfg.TLS)
	if err != nil {
		slog.Error("failed to build insight app", "err", err)
		return 1
	}

	slog.Info("insight ready — press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
