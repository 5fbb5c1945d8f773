// Package config provides the configuration schema and loader for the
// lisper-flow dictation engine. Durations are expressed in milliseconds so
// the YAML stays plain integers.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects how an utterance reaches the ASR provider.
type Mode string

const (
	// ModeStreaming sends live 100 ms chunks to a streaming provider and
	// types partial results as they arrive.
	ModeStreaming Mode = "streaming"

	// ModeBatch buffers the whole utterance and submits it to a batch
	// provider on stop.
	ModeBatch Mode = "batch"
)

// IsValid reports whether m is a recognised dictation mode.
func (m Mode) IsValid() bool {
	return m == ModeStreaming || m == ModeBatch
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel  LogLevel        `yaml:"log_level"`
	Mode      Mode            `yaml:"mode"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Providers ProvidersConfig `yaml:"providers"`
	Injection InjectionConfig `yaml:"injection"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AudioConfig holds microphone and capture pipeline settings.
type AudioConfig struct {
	// DeviceID selects the capture device. Empty uses the system default.
	DeviceID string `yaml:"device_id"`

	// SampleRate is the pipeline's working sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// ChunkIntervalMs is the cadence of streamed chunks. Default 100.
	ChunkIntervalMs int `yaml:"chunk_interval_ms"`

	// PreRollMs is the span of audio retained before a speech trigger.
	// Default 400.
	PreRollMs int `yaml:"pre_roll_ms"`
}

// VADConfig holds voice-activity gate settings.
type VADConfig struct {
	// Threshold is the speech probability at which a window counts as
	// speech. Default 0.45.
	Threshold float64 `yaml:"threshold"`

	// HangoverMs is the continuous silence needed to close a segment.
	// Default 500.
	HangoverMs int `yaml:"hangover_ms"`

	// MinSegmentMs discards finished segments shorter than this. Default 300.
	MinSegmentMs int `yaml:"min_segment_ms"`

	// UseRecurrent enables the recurrent classifier in front of the energy
	// heuristic.
	UseRecurrent bool `yaml:"use_recurrent"`
}

// ProvidersConfig declares the ASR and enhancement backends.
type ProvidersConfig struct {
	// Streaming selects the streaming ASR provider ("deepgram").
	Streaming ProviderEntry `yaml:"streaming"`

	// Batch selects the batch ASR provider ("whisper").
	Batch ProviderEntry `yaml:"batch"`

	// Enhance selects the LLM transcript cleanup provider ("openai").
	// Empty disables enhancement.
	Enhance ProviderEntry `yaml:"enhance"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation.
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3",
	// "gpt-4o-mini").
	Model string `yaml:"model"`

	// Language is the BCP-47 recognition language (e.g., "en").
	Language string `yaml:"language"`
}

// InjectionConfig holds keystroke delivery pacing.
type InjectionConfig struct {
	// InterCommandMs is the pause after each executed typing command.
	// Default 25.
	InterCommandMs int `yaml:"inter_command_ms"`

	// FocusRetries is the number of focus-request attempts before a command
	// is dropped. Default 10.
	FocusRetries int `yaml:"focus_retries"`

	// FocusRetryDelayMs is the pause between focus attempts. Default 100.
	FocusRetryDelayMs int `yaml:"focus_retry_delay_ms"`
}

// HistoryConfig holds utterance persistence settings.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `yaml:"path"`

	// RetentionDays prunes utterances older than this. Zero keeps all.
	RetentionDays int `yaml:"retention_days"`
}

// TelemetryConfig holds the metrics endpoint settings.
type TelemetryConfig struct {
	// MetricsAddr is the address the Prometheus /metrics endpoint listens
	// on. Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}
