// Package config provides the configuration schema, loader, watcher and
// microphone backend registry for voxconsole.
package config

import (
	"time"

	"github.com/MrWong99/voxconsole/pkg/audio/codec"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
)

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

// Config is the root configuration structure for voxconsole.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Transport   TransportConfig   `yaml:"transport"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds the console HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the console API (e.g., ":8420").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// TransportConfig holds the realtime backend connection settings.
type TransportConfig struct {
	// URL is the websocket endpoint of the speech backend (ws:// or wss://).
	URL string `yaml:"url"`

	// Token is sent as a bearer token during the upgrade, if set.
	Token string `yaml:"token"`

	// HandshakeTimeout bounds dial plus session.created.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// WriteTimeout bounds every outbound frame.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// FallbackURLs are dialed in order while URL is failing.
	FallbackURLs []string `yaml:"fallback_urls"`

	// Breaker tunes the per-endpoint circuit breakers used with
	// FallbackURLs.
	Breaker BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig tunes endpoint circuit breakers. Zero values use the
// resilience package defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// HeartbeatConfig tunes liveness detection. Hot-reloadable; applies to the
// next session.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ReconnectConfig tunes recovery after a lost connection. Hot-reloadable;
// applies to the next session.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// AudioConfig holds capture and encoding settings.
type AudioConfig struct {
	Microphone MicrophoneEntry `yaml:"microphone"`

	// Encoding selects the outbound codec: "pcm16" or "opus".
	Encoding codec.Name `yaml:"encoding"`

	// Transmit selects which frames are sent: "always" or "speech".
	Transmit string `yaml:"transmit"`

	// SampleRate is the pipeline rate in Hz. 8000 or 16000.
	SampleRate int `yaml:"sample_rate"`
}

// MicrophoneEntry selects and configures a microphone backend from the
// [Registry].
type MicrophoneEntry struct {
	// Backend is the registered backend name (e.g., "ffmpeg").
	Backend string `yaml:"backend"`

	// Command overrides the backend executable.
	Command string `yaml:"command"`

	// InputFormat is the capture API, e.g. "pulse", "alsa",
	// "avfoundation" or "dshow".
	InputFormat string `yaml:"input_format"`

	// Device names the capture device for InputFormat.
	Device string `yaml:"device"`
}

// VADConfig holds voice activity detection defaults. Mode, Threshold and
// Enabled seed the persisted preferences on first run; afterwards the
// preference store wins.
type VADConfig struct {
	Mode      vad.Mode `yaml:"mode"`
	Threshold *float64 `yaml:"threshold"`
	Enabled   *bool    `yaml:"enabled"`

	// ModelPath points at silero_vad.onnx. Without it every mode runs as rms.
	ModelPath string `yaml:"model_path"`

	// HybridRule is "agreement" or "weighted".
	HybridRule vad.HybridRule `yaml:"hybrid_rule"`

	// ModelWeight is the model share in the weighted hybrid rule.
	ModelWeight float64 `yaml:"model_weight"`

	// NegativeOffset is subtracted from the threshold for silence.
	NegativeOffset float64 `yaml:"negative_offset"`

	Segmenter SegmenterConfig `yaml:"segmenter"`
}

// SegmenterConfig holds the hysteresis parameters, in frames.
type SegmenterConfig struct {
	OnsetFrames        int `yaml:"onset_frames"`
	RedemptionFrames   int `yaml:"redemption_frames"`
	PreSpeechPadFrames int `yaml:"pre_speech_pad_frames"`
	MinSpeechFrames    int `yaml:"min_speech_frames"`
}

// PreferencesConfig selects the preference store.
type PreferencesConfig struct {
	// Backend is "file", "sqlite" or "memory".
	Backend string `yaml:"backend"`

	// Path is the file or database location.
	Path string `yaml:"path"`
}

// TelemetryConfig holds OpenTelemetry identity.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	// DisableMetricsEndpoint removes /metrics from the console mux.
	DisableMetricsEndpoint bool `yaml:"disable_metrics_endpoint"`
}
