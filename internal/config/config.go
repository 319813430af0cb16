// Package config provides the configuration schema, loader, and validation
// for all four ws-stt-llm services (Signaling, Relay, Transcriber, Insight).
package config

// Config is the root configuration structure. A single YAML file can
// configure all four services for local development; each cmd/<service>
// binary only reads the sections it needs.
type Config struct {
	LogLevel    LogLevel          `yaml:"log_level"`
	TLS         TLSConfig         `yaml:"tls"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Signaling   SignalingConfig   `yaml:"signaling"`
	Relay       RelayConfig       `yaml:"relay"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Insight     InsightConfig     `yaml:"insight"`
}

// LogLevel controls slog verbosity. Valid values: "debug", "info", "warn", "error".
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError, "":
		return true
	default:
		return false
	}
}

// TLSConfig names the certificate/key pair shared by every listener. All
// four service ports and the static asset port use the same pair.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ResilienceConfig tunes the circuit breaker guarding every outbound
// fan-out/provider link (Signaling→Relay/Transcriber, Transcriber→Insight).
type ResilienceConfig struct {
	MaxFailures         int     `yaml:"max_failures"`
	ResetTimeoutSeconds float64 `yaml:"reset_timeout_seconds"`
	HalfOpenMax         int     `yaml:"half_open_max"`
}

// SignalingConfig configures the Signaling service (client registry, call
// lifecycle, control-event fan-out to Relay and Transcriber).
type SignalingConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	MetricsAddr     string `yaml:"metrics_addr"`
	RelayAddr       string `yaml:"relay_addr"`
	TranscriberAddr string `yaml:"transcriber_addr"`
}

// RelayConfig configures the Relay service (peer-to-peer audio forwarding).
type RelayConfig struct {
	ListenAddr           string `yaml:"listen_addr"`
	MetricsAddr          string `yaml:"metrics_addr"`
	OverflowBufferFrames int    `yaml:"overflow_buffer_frames"`
}

// TranscriberConfig configures the Transcriber service (per-call recognizer
// sessions, recognition-drain/insight-drain tasks, the link to Insight).
type TranscriberConfig struct {
	ListenAddr       string            `yaml:"listen_addr"`
	MetricsAddr      string            `yaml:"metrics_addr"`
	InsightAddr      string            `yaml:"insight_addr"`
	PCMQueueSize     int               `yaml:"pcm_queue_size"`
	InsightQueueSize int               `yaml:"insight_queue_size"`
	Recognition      RecognitionConfig `yaml:"recognition"`
	Recognizer       ProviderEntry     `yaml:"recognizer"`
}

// RecognitionConfig holds the recognition-drain tuning parameters.
type RecognitionConfig struct {
	TargetSampleRate          int                 `yaml:"target_sample_rate"`
	BytesPerSample            int                 `yaml:"bytes_per_sample"`
	MinBufferDurationSeconds  float64             `yaml:"min_buffer_duration_seconds"`
	SilenceRMSThreshold       float64             `yaml:"silence_rms_threshold"`
	MaxGapSeconds             float64             `yaml:"max_gap_seconds"`
	ConfidenceThreshold       float64             `yaml:"confidence_threshold"`
	MinPhraseWords            int                 `yaml:"min_phrase_words"`
	JunkWords                 map[string][]string `yaml:"junk_words"`
	RepeatSimilarityThreshold float64             `yaml:"repeat_similarity_threshold"`
}

// ProcessThresholdBytes returns the byte count at which accumulated PCM is
// handed to the recognizer: target_rate × bytes_per_sample × min_buffer_duration.
func (r RecognitionConfig) ProcessThresholdBytes() int {
	return int(float64(r.TargetSampleRate*r.BytesPerSample) * r.MinBufferDurationSeconds)
}

// InsightConfig configures the Insight service (stateless LLM commentary
// endpoint).
type InsightConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Provider    ProviderEntry `yaml:"provider"`
}

// ProviderEntry is the common configuration block for a pluggable provider
// (the local recognizer backend, or the Insight LLM backend).
type ProviderEntry struct {
	// Name selects the implementation ("whisper-native" for the recognizer;
	// "anyllm" or "openai" for Insight).
	Name string `yaml:"name"`

	APIKey    string         `yaml:"api_key"`
	BaseURL   string         `yaml:"base_url"`
	Model     string         `yaml:"model"`
	ModelPath string         `yaml:"model_path"`
	Options   map[string]any `yaml:"options"`
}
