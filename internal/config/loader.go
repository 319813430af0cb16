package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// defaults applied after decode, before validation.
func defaults(cfg *Config) {
	if cfg.Resilience.MaxFailures <= 0 {
		cfg.Resilience.MaxFailures = 5
	}
	if cfg.Resilience.ResetTimeoutSeconds <= 0 {
		cfg.Resilience.ResetTimeoutSeconds = 30
	}
	if cfg.Resilience.HalfOpenMax <= 0 {
		cfg.Resilience.HalfOpenMax = 3
	}

	if cfg.Signaling.ListenAddr == "" {
		cfg.Signaling.ListenAddr = ":8001"
	}
	if cfg.Signaling.MetricsAddr == "" {
		cfg.Signaling.MetricsAddr = ":9001"
	}
	if cfg.Relay.ListenAddr == "" {
		cfg.Relay.ListenAddr = ":8002"
	}
	if cfg.Relay.MetricsAddr == "" {
		cfg.Relay.MetricsAddr = ":9002"
	}
	if cfg.Relay.OverflowBufferFrames <= 0 {
		cfg.Relay.OverflowBufferFrames = 50
	}
	if cfg.Transcriber.ListenAddr == "" {
		cfg.Transcriber.ListenAddr = ":8003"
	}
	if cfg.Transcriber.MetricsAddr == "" {
		cfg.Transcriber.MetricsAddr = ":9003"
	}
	if cfg.Transcriber.PCMQueueSize <= 0 {
		cfg.Transcriber.PCMQueueSize = 50
	}
	if cfg.Transcriber.InsightQueueSize <= 0 {
		cfg.Transcriber.InsightQueueSize = 64
	}
	if cfg.Insight.ListenAddr == "" {
		cfg.Insight.ListenAddr = ":8004"
	}
	if cfg.Insight.MetricsAddr == "" {
		cfg.Insight.MetricsAddr = ":9004"
	}

	r := &cfg.Transcriber.Recognition
	if r.TargetSampleRate <= 0 {
		r.TargetSampleRate = 48000
	}
	if r.BytesPerSample <= 0 {
		r.BytesPerSample = 2
	}
	if r.MinBufferDurationSeconds <= 0 {
		r.MinBufferDurationSeconds = 0.2
	}
	if r.SilenceRMSThreshold <= 0 {
		r.SilenceRMSThreshold = 0.0025
	}
	if r.MaxGapSeconds <= 0 {
		r.MaxGapSeconds = 0.5
	}
	if r.ConfidenceThreshold <= 0 {
		r.ConfidenceThreshold = 0.7
	}
	if r.MinPhraseWords <= 0 {
		r.MinPhraseWords = 1
	}
	if r.JunkWords == nil {
		r.JunkWords = map[string][]string{
			"en": {"the", "uh um", "the uh"},
			"ja": {"えっと", "あの", "うーん"},
		}
	}
	if r.RepeatSimilarityThreshold <= 0 {
		r.RepeatSimilarityThreshold = 0.92
	}
}

// Load reads the YAML configuration file at path, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	defaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent, startable configuration. It
// returns a joined error for hard failures (an invalid log level,
// non-positive overflow buffer, queue size or sample rate, thresholds
// outside [0,1]); recoverable oddities, including missing TLS material, are
// logged as warnings rather than rejected. Ports are not checked.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		slog.Warn("tls.cert_file/key_file not set — services will fail to start a real listener; fine for tests using in-memory transport")
	}

	if cfg.Relay.OverflowBufferFrames <= 0 {
		errs = append(errs, errors.New("relay.overflow_buffer_frames must be positive"))
	}

	if cfg.Transcriber.PCMQueueSize <= 0 {
		errs = append(errs, errors.New("transcriber.pcm_queue_size must be positive"))
	}

	rc := cfg.Transcriber.Recognition
	if rc.TargetSampleRate <= 0 {
		errs = append(errs, errors.New("transcriber.recognition.target_sample_rate must be positive"))
	}
	if rc.SilenceRMSThreshold < 0 || rc.SilenceRMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcriber.recognition.silence_rms_threshold %.4f must be in [0,1]", rc.SilenceRMSThreshold))
	}
	if rc.ConfidenceThreshold < 0 || rc.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcriber.recognition.confidence_threshold %.4f must be in [0,1]", rc.ConfidenceThreshold))
	}
	if rc.RepeatSimilarityThreshold < 0 || rc.RepeatSimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcriber.recognition.repeat_similarity_threshold %.4f must be in [0,1]", rc.RepeatSimilarityThreshold))
	}
	for lang := range rc.JunkWords {
		if lang != "en" && lang != "ja" {
			slog.Warn("unrecognized junk-word language — filter still applies the list verbatim", "language", lang)
		}
	}

	if cfg.Transcriber.Recognizer.Name == "" {
		slog.Warn("transcriber.recognizer.name not set — Transcriber falls back to the whisper-native recognizer provider")
	}
	if cfg.Insight.Provider.Name == "" {
		slog.Warn("insight.provider.name not set — Insight falls back to the anyllm LLM provider")
	}

	return errors.Join(errs...)
}
