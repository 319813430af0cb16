package config

import (
	"strings"
	"testing"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty): %v", err)
	}

	if cfg.Signaling.ListenAddr != ":8001" {
		t.Errorf("Signaling.ListenAddr = %q, want :8001", cfg.Signaling.ListenAddr)
	}
	if cfg.Relay.ListenAddr != ":8002" {
		t.Errorf("Relay.ListenAddr = %q, want :8002", cfg.Relay.ListenAddr)
	}
	if cfg.Transcriber.ListenAddr != ":8003" {
		t.Errorf("Transcriber.ListenAddr = %q, want :8003", cfg.Transcriber.ListenAddr)
	}
	if cfg.Insight.ListenAddr != ":8004" {
		t.Errorf("Insight.ListenAddr = %q, want :8004", cfg.Insight.ListenAddr)
	}
	if cfg.Relay.OverflowBufferFrames != 50 {
		t.Errorf("Relay.OverflowBufferFrames = %d, want 50", cfg.Relay.OverflowBufferFrames)
	}
	if cfg.Transcriber.PCMQueueSize != 50 {
		t.Errorf("Transcriber.PCMQueueSize = %d, want 50", cfg.Transcriber.PCMQueueSize)
	}

	r := cfg.Transcriber.Recognition
	if got := r.ProcessThresholdBytes(); got != 19200 {
		t.Errorf("ProcessThresholdBytes = %d, want 19200 (48000 × 2 × 0.2)", got)
	}
	if r.SilenceRMSThreshold != 0.0025 {
		t.Errorf("SilenceRMSThreshold = %v, want 0.0025", r.SilenceRMSThreshold)
	}
	if r.MaxGapSeconds != 0.5 {
		t.Errorf("MaxGapSeconds = %v, want 0.5", r.MaxGapSeconds)
	}
	if r.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", r.ConfidenceThreshold)
	}
	for lang, want := range map[string][]string{
		"en": {"the", "uh um", "the uh"},
		"ja": {"えっと", "あの", "うーん"},
	} {
		got := r.JunkWords[lang]
		if len(got) != len(want) {
			t.Errorf("JunkWords[%q] = %v, want %v", lang, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("JunkWords[%q][%d] = %q, want %q", lang, i, got[i], want[i])
			}
		}
	}
}

func TestLoadFromReaderOverrides(t *testing.T) {
	yaml := `
log_level: debug
relay:
  overflow_buffer_frames: 10
transcriber:
  pcm_queue_size: 128
  recognition:
    silence_rms_threshold: 0.01
    junk_words:
      en: ["um"]
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Relay.OverflowBufferFrames != 10 {
		t.Errorf("OverflowBufferFrames = %d, want 10", cfg.Relay.OverflowBufferFrames)
	}
	if cfg.Transcriber.PCMQueueSize != 128 {
		t.Errorf("PCMQueueSize = %d, want 128", cfg.Transcriber.PCMQueueSize)
	}
	if cfg.Transcriber.Recognition.SilenceRMSThreshold != 0.01 {
		t.Errorf("SilenceRMSThreshold = %v, want 0.01", cfg.Transcriber.Recognition.SilenceRMSThreshold)
	}
	if got := cfg.Transcriber.Recognition.JunkWords["en"]; len(got) != 1 || got[0] != "um" {
		t.Errorf("JunkWords[en] = %v, want [um]", got)
	}
	if got := cfg.Transcriber.Recognition.JunkWords["ja"]; got != nil {
		t.Errorf("JunkWords[ja] = %v, want absent when the list is overridden", got)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("signalling:\n  listen_addr: ':8001'\n"))
	if err == nil {
		t.Fatal("LoadFromReader with misspelled section = nil, want error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "negative overflow frames",
			mutate:  func(c *Config) { c.Relay.OverflowBufferFrames = -1 },
			wantErr: "overflow_buffer_frames",
		},
		{
			name:    "silence threshold out of range",
			mutate:  func(c *Config) { c.Transcriber.Recognition.SilenceRMSThreshold = 1.5 },
			wantErr: "silence_rms_threshold",
		},
		{
			name:    "confidence threshold out of range",
			mutate:  func(c *Config) { c.Transcriber.Recognition.ConfidenceThreshold = 2 },
			wantErr: "confidence_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			defaults(cfg)
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("Validate = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	cfg := &Config{}
	defaults(cfg)
	cfg.LogLevel = "loud"
	cfg.Relay.OverflowBufferFrames = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate = nil, want joined error")
	}
	for _, want := range []string{"log_level", "overflow_buffer_frames"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error = %q, want it to mention %q", err, want)
		}
	}
}
