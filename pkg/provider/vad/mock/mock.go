// Package mock provides test doubles for the vad package interfaces.
//
// Use Classifier to script per-frame scores and inspect the frames that were
// classified. Use Settings as a [vad.SettingsSource] whose value a test can
// change between frames.
//
// Example:
//
//	cls := &mock.Classifier{Scores: []float64{0.9, 0.9, 0.1}}
//	src := &mock.Settings{}
//	src.Set(vad.Settings{Mode: vad.ModeRMS, Enabled: true, Threshold: 0.5})
//	eng := vad.NewEngine(src, cls, nil, vad.EngineConfig{})
package mock

import (
	"sync"

	"github.com/MrWong99/voxconsole/pkg/provider/vad"
)

// Classifier is a mock implementation of [vad.Classifier].
type Classifier struct {
	mu sync.Mutex

	// Scores are returned in order, one per Classify call. Once exhausted,
	// Default is returned.
	Scores []float64

	// Default is returned after Scores runs out.
	Default float64

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ClassifyCallCount is the number of times Classify was called.
	ClassifyCallCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Classify records the call and returns the next scripted score.
func (c *Classifier) Classify(samples []float32) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCallCount++
	if c.ClassifyErr != nil {
		return 0, c.ClassifyErr
	}
	if len(c.Scores) > 0 {
		s := c.Scores[0]
		c.Scores = c.Scores[1:]
		return s, nil
	}
	return c.Default, nil
}

// Reset records the call.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return c.CloseErr
}

// Calls returns the number of Classify calls. Thread-safe.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ClassifyCallCount
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)

// Settings is a mutable [vad.SettingsSource].
type Settings struct {
	mu      sync.Mutex
	s       vad.Settings
	version uint64
}

// Set replaces the settings and bumps the version.
func (m *Settings) Set(s vad.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	m.version++
}

// Snapshot implements [vad.SettingsSource].
func (m *Settings) Snapshot() (vad.Settings, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, m.version
}

var _ vad.SettingsSource = (*Settings)(nil)
