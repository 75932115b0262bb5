// Package silero provides the neural voice activity classifier backed by the
// Silero VAD ONNX model.
//
// The real implementation requires cgo and the ONNX Runtime shared library
// and is compiled only with the "silero" build tag. Without the tag, [New]
// always fails with [ErrUnavailable] and the engine runs on the amplitude
// detector alone.
package silero

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxconsole/pkg/provider/vad"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// ErrUnavailable is returned by [New] in builds without the silero tag.
var ErrUnavailable = errors.New("silero: model support not compiled in (build with -tags silero)")

// Config configures the model.
type Config struct {
	// ModelPath is the path to silero_vad.onnx.
	ModelPath string

	// SampleRate must be 8000 or 16000.
	SampleRate int

	// Threshold is the model's own activation threshold.
	Threshold float64

	// MinSilenceDurationMs is how long the model must hear silence before it
	// reports the end of speech.
	MinSilenceDurationMs int

	// SpeechPadMs pads detected segments on both sides.
	SpeechPadMs int
}

func (c Config) validate() error {
	if c.ModelPath == "" {
		return errors.New("silero: model path is required")
	}
	if c.SampleRate != 8000 && c.SampleRate != 16000 {
		return fmt.Errorf("silero: unsupported sample rate %d", c.SampleRate)
	}
	return nil
}

// Load creates the classifier and classifies any failure as a
// [types.KindVADAssetLoad] error. The returned classifier is nil on failure.
func Load(cfg Config) (vad.Classifier, error) {
	d, err := New(cfg)
	if err != nil {
		return nil, types.NewError(types.KindVADAssetLoad, "load silero model", err)
	}
	return d, nil
}

// resetModel clears the recurrent state of m. A failure is logged and
// otherwise ignored: the model keeps classifying with its previous state.
func resetModel(m interface{ Reset() error }) {
	if err := m.Reset(); err != nil {
		slog.Warn("silero: model reset failed", "err", err)
	}
}
