// Package vad implements voice activity detection for the capture pipeline.
//
// Detection is split in two layers. A [Classifier] scores a single frame of
// normalised PCM with a speech likelihood in [0, 1]; two classifiers exist,
// an amplitude detector (package rms) and the Silero neural model (package
// silero). The [Engine] selects and combines classifiers according to the
// process-wide [Settings] and feeds the per-frame decision into a hysteresis
// [Segmenter] that turns it into speech-start, speech-end and misfire events.
//
// The Engine is driven from a single goroutine (the capture pipeline's VAD
// worker). Settings changes are observed at the next frame boundary and never
// reset the segmenter, so an utterance in flight completes under the new
// parameters.
package vad

import (
	"fmt"
	"math"
)

// Mode selects the detection strategy.
type Mode string

const (
	// ModeRMS uses the amplitude detector only. Always available.
	ModeRMS Mode = "rms"

	// ModeSilero uses the neural model only.
	ModeSilero Mode = "silero"

	// ModeHybrid combines both detectors: onset requires agreement, offset
	// waits until both report silence.
	ModeHybrid Mode = "hybrid"
)

// DefaultMode is used when no preference has been persisted.
const DefaultMode = ModeHybrid

// DefaultThreshold is the speech threshold applied before the user changes it.
const DefaultThreshold = 0.5

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeRMS, ModeSilero, ModeHybrid:
		return true
	}
	return false
}

// UsesModel reports whether m requires the neural model.
func (m Mode) UsesModel() bool {
	return m == ModeSilero || m == ModeHybrid
}

// ParseMode converts s into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("vad: invalid mode %q; valid values: rms, silero, hybrid", s)
	}
	return m, nil
}

// ClampThreshold limits v to [0, 1]. NaN maps to [DefaultThreshold].
func ClampThreshold(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return DefaultThreshold
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Settings is the user-facing VAD configuration.
type Settings struct {
	// Mode is the preferred strategy. The strategy actually used is
	// reported by [Settings.Effective].
	Mode Mode `json:"mode"`

	// Enabled turns detection on or off. Disabled VAD emits no events.
	Enabled bool `json:"enabled"`

	// Threshold is the speech score threshold in [0, 1].
	Threshold float64 `json:"threshold"`

	// SileroAvailable reflects whether the model asset loaded at startup.
	// Read-only for consumers.
	SileroAvailable bool `json:"silero_available"`
}

// Effective returns the strategy to run. Without the model every mode
// collapses to [ModeRMS].
func (s Settings) Effective() Mode {
	if !s.Mode.IsValid() {
		if s.SileroAvailable {
			return DefaultMode
		}
		return ModeRMS
	}
	if s.Mode.UsesModel() && !s.SileroAvailable {
		return ModeRMS
	}
	return s.Mode
}

// SettingsSource supplies the current settings together with a version
// number that increases on every change. The engine only re-reads settings
// when the version moves.
type SettingsSource interface {
	Snapshot() (Settings, uint64)
}

// Classifier scores a frame of mono PCM normalised to [-1, 1].
//
// Classifiers may be stateful (the neural model keeps recurrent state).
// They are called from a single goroutine and need not be safe for
// concurrent use.
type Classifier interface {
	// Classify returns the speech score for one frame in [0, 1].
	Classify(samples []float32) (float64, error)

	// Reset clears any state carried between frames.
	Reset()

	// Close releases resources. Calling Close more than once is safe.
	Close() error
}
