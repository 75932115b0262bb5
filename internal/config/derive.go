package config

import (
	"github.com/MrWong99/voxconsole/internal/capture"
	"github.com/MrWong99/voxconsole/internal/session"
	"github.com/MrWong99/voxconsole/pkg/audio"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
	"github.com/MrWong99/voxconsole/pkg/provider/vad/silero"
)

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr        = "127.0.0.1:8420"
	DefaultMicrophoneBackend = "ffmpeg"
	DefaultPrefsBackend      = "file"
	DefaultPrefsPath         = "voxconsole-prefs.yaml"
)

// frameDurationMs is the window of one capture frame (32 ms).
const frameDurationMs = 32

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Microphone.Backend == "" {
		cfg.Audio.Microphone.Backend = DefaultMicrophoneBackend
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Preferences.Backend == "" {
		cfg.Preferences.Backend = DefaultPrefsBackend
	}
	if cfg.Preferences.Path == "" && cfg.Preferences.Backend != "memory" {
		cfg.Preferences.Path = DefaultPrefsPath
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "voxconsole"
	}
}

// Format returns the pipeline frame format for the configured sample rate.
func (c *Config) Format() audio.Format {
	rate := c.Audio.SampleRate
	if rate == 0 {
		rate = audio.DefaultSampleRate
	}
	return audio.Format{
		SampleRate:   rate,
		Channels:     audio.DefaultChannels,
		FrameSamples: rate * frameDurationMs / 1000,
	}
}

// Session returns the per-session tuning. Zero fields keep the session
// package defaults.
func (c *Config) Session() session.Config {
	return session.Config{
		HeartbeatInterval: c.Heartbeat.Interval,
		HeartbeatTimeout:  c.Heartbeat.Timeout,
		Reconnect: session.Backoff{
			Base:        c.Reconnect.BaseDelay,
			Max:         c.Reconnect.MaxDelay,
			Multiplier:  c.Reconnect.Multiplier,
			MaxAttempts: c.Reconnect.MaxAttempts,
		},
		Capture: capture.Config{
			Format:   c.Format(),
			Encoding: c.Audio.Encoding,
			Transmit: capture.TransmitPolicy(c.Audio.Transmit),
		},
		Client: c.Telemetry.ServiceName,
	}
}

// VADDefaults returns the settings used when no preference is stored yet.
func (c *Config) VADDefaults() vad.Settings {
	s := vad.Settings{
		Mode:      c.VAD.Mode,
		Enabled:   true,
		Threshold: vad.DefaultThreshold,
	}
	if s.Mode == "" {
		s.Mode = vad.DefaultMode
	}
	if c.VAD.Threshold != nil {
		s.Threshold = vad.ClampThreshold(*c.VAD.Threshold)
	}
	if c.VAD.Enabled != nil {
		s.Enabled = *c.VAD.Enabled
	}
	return s
}

// Engine returns the detector tuning.
func (c *Config) Engine() vad.EngineConfig {
	seg := c.VAD.Segmenter
	return vad.EngineConfig{
		Segmenter: vad.SegmenterConfig{
			OnsetFrames:        seg.OnsetFrames,
			RedemptionFrames:   seg.RedemptionFrames,
			PreSpeechPadFrames: seg.PreSpeechPadFrames,
			MinSpeechFrames:    seg.MinSpeechFrames,
		},
		NegativeOffset: c.VAD.NegativeOffset,
		HybridRule:     c.VAD.HybridRule,
		ModelWeight:    c.VAD.ModelWeight,
	}
}

// Silero returns the model configuration.
func (c *Config) Silero() silero.Config {
	threshold := vad.DefaultThreshold
	if c.VAD.Threshold != nil {
		threshold = vad.ClampThreshold(*c.VAD.Threshold)
	}
	return silero.Config{
		ModelPath:            c.VAD.ModelPath,
		SampleRate:           c.Format().SampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          frameDurationMs,
	}
}
