//go:build silero

package silero

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/voxconsole/pkg/provider/vad"
)

// Detector wraps a speech.Detector.
//
// The library reports segment boundaries rather than raw probabilities, so
// Classify returns 1 while the model considers speech active and 0 otherwise.
type Detector struct {
	mu     sync.Mutex
	d      *speech.Detector
	active bool
	closed bool
}

// New loads the model.
func New(cfg Config) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            float32(cfg.Threshold),
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &Detector{d: d}, nil
}

// Classify runs one inference window over samples.
func (s *Detector) Classify(samples []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("silero: detector closed")
	}

	// Detect only evaluates windows strictly before the last sample, so one
	// extra sample makes a single 512-sample frame count as a full window.
	buf := make([]float32, len(samples)+1)
	copy(buf, samples)
	segments, err := s.d.Detect(buf)
	if err != nil {
		return 0, fmt.Errorf("silero: detect: %w", err)
	}
	for _, seg := range segments {
		s.active = seg.SpeechEndAt == 0
	}
	if s.active {
		return 1, nil
	}
	return 0, nil
}

// Reset clears the recurrent model state.
func (s *Detector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.active = false
	resetModel(s.d)
}

// Close destroys the ONNX session. Safe to call more than once.
func (s *Detector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.d.Destroy()
}

var _ vad.Classifier = (*Detector)(nil)
