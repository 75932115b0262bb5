//go:build !silero

package silero

import "github.com/MrWong99/voxconsole/pkg/provider/vad"

// Detector is unavailable in this build.
type Detector struct{}

// New validates cfg and reports [ErrUnavailable].
func New(cfg Config) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}

// Classify always fails.
func (*Detector) Classify([]float32) (float64, error) { return 0, ErrUnavailable }

// Reset is a no-op.
func (*Detector) Reset() {}

// Close is a no-op.
func (*Detector) Close() error { return nil }

var _ vad.Classifier = (*Detector)(nil)
