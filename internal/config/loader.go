package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"streaming": {"deepgram"},
	"batch":     {"whisper"},
	"enhance":   {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Mode != "" && !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: streaming, batch", cfg.Mode))
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_interval_ms must not be negative"))
	}
	if cfg.Audio.PreRollMs < 0 {
		errs = append(errs, fmt.Errorf("audio.pre_roll_ms must not be negative"))
	}

	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}

	validateProviderName("streaming", cfg.Providers.Streaming.Name)
	validateProviderName("batch", cfg.Providers.Batch.Name)
	validateProviderName("enhance", cfg.Providers.Enhance.Name)

	mode := cfg.Mode
	if mode == "" {
		mode = ModeStreaming
	}
	if mode == ModeStreaming && cfg.Providers.Streaming.Name == "" {
		errs = append(errs, fmt.Errorf("mode %q requires a streaming ASR provider but providers.streaming is not configured", mode))
	}
	if mode == ModeBatch && cfg.Providers.Batch.Name == "" {
		errs = append(errs, fmt.Errorf("mode %q requires a batch ASR provider but providers.batch is not configured", mode))
	}

	if cfg.Providers.Streaming.Name == "deepgram" && cfg.Providers.Streaming.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.streaming.api_key is required for deepgram"))
	}
	if cfg.Providers.Batch.Name == "whisper" && cfg.Providers.Batch.BaseURL == "" {
		errs = append(errs, fmt.Errorf("providers.batch.base_url is required for whisper (whisper-server address)"))
	}
	if cfg.Providers.Enhance.Name == "openai" && cfg.Providers.Enhance.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.enhance.api_key is required for openai"))
	}

	if cfg.Injection.FocusRetries < 0 {
		errs = append(errs, fmt.Errorf("injection.focus_retries must not be negative"))
	}
	if cfg.History.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("history.retention_days must not be negative"))
	}

	if cfg.History.Path == "" {
		slog.Debug("history.path is empty; utterance history disabled")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
