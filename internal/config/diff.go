package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when heartbeat, reconnect or audio tuning
	// changed. The new tuning applies to the next session.
	SessionChanged bool

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether d holds any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Session tuning
	if old.Heartbeat != new.Heartbeat ||
		old.Reconnect != new.Reconnect ||
		old.Audio.Encoding != new.Audio.Encoding ||
		old.Audio.Transmit != new.Audio.Transmit ||
		old.Audio.SampleRate != new.Audio.SampleRate {
		d.SessionChanged = true
	}

	// Restart-only sections
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !equalTransport(old.Transport, new.Transport) {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	if old.Audio.Microphone != new.Audio.Microphone {
		d.RestartRequired = append(d.RestartRequired, "audio.microphone")
	}
	if !equalVAD(old.VAD, new.VAD) {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if old.Preferences != new.Preferences {
		d.RestartRequired = append(d.RestartRequired, "preferences")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func equalTransport(a, b TransportConfig) bool {
	if !slices.Equal(a.FallbackURLs, b.FallbackURLs) {
		return false
	}
	return a.URL == b.URL &&
		a.Token == b.Token &&
		a.HandshakeTimeout == b.HandshakeTimeout &&
		a.WriteTimeout == b.WriteTimeout &&
		a.Breaker == b.Breaker
}

func equalVAD(a, b VADConfig) bool {
	if !equalPtr(a.Threshold, b.Threshold) || !equalPtr(a.Enabled, b.Enabled) {
		return false
	}
	a.Threshold, b.Threshold = nil, nil
	a.Enabled, b.Enabled = nil, nil
	return a == b
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
