package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxconsole/internal/capture"
	"github.com/MrWong99/voxconsole/internal/prefs"
)

// KnownMicrophoneBackends lists the backend names that ship with voxconsole.
// Used by [Validate] to warn about unrecognised names.
var KnownMicrophoneBackends = []string{"ffmpeg"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transport
	if cfg.Transport.URL == "" {
		slog.Warn("transport.url is empty; sessions will fail to connect")
	} else if err := validateEndpoint("transport.url", cfg.Transport.URL); err != nil {
		errs = append(errs, err)
	}
	for i, raw := range cfg.Transport.FallbackURLs {
		if err := validateEndpoint(fmt.Sprintf("transport.fallback_urls[%d]", i), raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Transport.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("transport.handshake_timeout must not be negative"))
	}
	if cfg.Transport.WriteTimeout < 0 {
		errs = append(errs, errors.New("transport.write_timeout must not be negative"))
	}
	if cfg.Transport.Breaker.MaxFailures < 0 {
		errs = append(errs, errors.New("transport.circuit_breaker.max_failures must not be negative"))
	}
	if cfg.Transport.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("transport.circuit_breaker.reset_timeout must not be negative"))
	}

	// Heartbeat
	hb := cfg.Heartbeat
	if hb.Interval < 0 || hb.Timeout < 0 {
		errs = append(errs, errors.New("heartbeat.interval and heartbeat.timeout must not be negative"))
	}
	if hb.Interval > 0 && hb.Timeout > 0 && hb.Timeout <= hb.Interval {
		errs = append(errs, fmt.Errorf("heartbeat.timeout %s must exceed heartbeat.interval %s", hb.Timeout, hb.Interval))
	}

	// Reconnect
	rc := cfg.Reconnect
	if rc.BaseDelay < 0 || rc.MaxDelay < 0 {
		errs = append(errs, errors.New("reconnect.base_delay and reconnect.max_delay must not be negative"))
	}
	if rc.BaseDelay > 0 && rc.MaxDelay > 0 && rc.MaxDelay < rc.BaseDelay {
		errs = append(errs, fmt.Errorf("reconnect.max_delay %s is below reconnect.base_delay %s", rc.MaxDelay, rc.BaseDelay))
	}
	if rc.Multiplier != 0 && rc.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("reconnect.multiplier %.2f must be at least 1", rc.Multiplier))
	}
	if rc.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", rc.MaxAttempts))
	}

	// Audio
	validateMicrophoneBackend(cfg.Audio.Microphone.Backend)
	if cfg.Audio.Encoding != "" && !cfg.Audio.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("audio.encoding %q is invalid; valid values: pcm16, opus", cfg.Audio.Encoding))
	}
	if cfg.Audio.Transmit != "" && !capture.TransmitPolicy(cfg.Audio.Transmit).IsValid() {
		errs = append(errs, fmt.Errorf("audio.transmit %q is invalid; valid values: always, speech", cfg.Audio.Transmit))
	}
	if sr := cfg.Audio.SampleRate; sr != 0 && sr != 8000 && sr != 16000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 8000, 16000", sr))
	}

	// VAD
	v := cfg.VAD
	if v.Mode != "" && !v.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("vad.mode %q is invalid; valid values: rms, silero, hybrid", v.Mode))
	}
	if v.Threshold != nil && (*v.Threshold < 0 || *v.Threshold > 1) {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", *v.Threshold))
	}
	if v.HybridRule != "" && !v.HybridRule.IsValid() {
		errs = append(errs, fmt.Errorf("vad.hybrid_rule %q is invalid; valid values: agreement, weighted", v.HybridRule))
	}
	if v.ModelWeight < 0 || v.ModelWeight > 1 {
		errs = append(errs, fmt.Errorf("vad.model_weight %.2f is out of range [0, 1]", v.ModelWeight))
	}
	if v.NegativeOffset < 0 || v.NegativeOffset > 1 {
		errs = append(errs, fmt.Errorf("vad.negative_offset %.2f is out of range [0, 1]", v.NegativeOffset))
	}
	seg := v.Segmenter
	if seg.OnsetFrames < 0 || seg.RedemptionFrames < 0 || seg.PreSpeechPadFrames < 0 || seg.MinSpeechFrames < 0 {
		errs = append(errs, errors.New("vad.segmenter frame counts must not be negative"))
	}
	if v.ModelPath == "" && v.Mode.UsesModel() {
		slog.Warn("vad.model_path is empty; VAD will run in rms mode", "mode", v.Mode)
	}

	// Preferences
	switch cfg.Preferences.Backend {
	case "", prefs.BackendFile, prefs.BackendSQLite, prefs.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("preferences.backend %q is invalid; valid values: file, sqlite, memory", cfg.Preferences.Backend))
	}
	if cfg.Preferences.Backend == prefs.BackendSQLite && cfg.Preferences.Path == "" {
		errs = append(errs, errors.New("preferences.path is required when backend is sqlite"))
	}

	return errors.Join(errs...)
}

// validateMicrophoneBackend logs a warning if name is non-empty and not in
// [KnownMicrophoneBackends].
func validateMicrophoneBackend(name string) {
	if name == "" || slices.Contains(KnownMicrophoneBackends, name) {
		return
	}
	slog.Warn("unknown microphone backend, may be a typo or a custom registration",
		"name", name,
		"known", KnownMicrophoneBackends,
	)
}

func validateEndpoint(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s scheme %q is invalid; valid values: ws, wss", field, u.Scheme)
	}
	return nil
}
