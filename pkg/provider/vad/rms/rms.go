// Package rms provides the amplitude voice activity classifier.
//
// The frame's root-mean-square energy is converted to dBFS and mapped
// linearly onto [0, 1] between a noise floor and full scale. With the
// default -60 dBFS floor a score of 0.5 corresponds to -30 dBFS, which is a
// reasonable speaking level for a headset microphone.
package rms

import (
	"github.com/MrWong99/voxconsole/pkg/audio"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
)

// DefaultFloor is the dBFS level that maps to a score of 0.
const DefaultFloor = -60.0

// Option configures a [Detector].
type Option func(*Detector)

// WithFloor overrides the noise floor. Values at or above 0 are ignored.
func WithFloor(dbfs float64) Option {
	return func(d *Detector) {
		if dbfs < 0 {
			d.floor = dbfs
		}
	}
}

// Detector is a stateless amplitude classifier.
type Detector struct {
	floor float64
}

// New returns a Detector.
func New(opts ...Option) *Detector {
	d := &Detector{floor: DefaultFloor}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Classify returns clamp((dBFS - floor) / -floor).
func (d *Detector) Classify(samples []float32) (float64, error) {
	db := audio.DBFS(audio.RMS(samples))
	return vad.ClampThreshold((db - d.floor) / -d.floor), nil
}

// Reset is a no-op.
func (d *Detector) Reset() {}

// Close is a no-op.
func (d *Detector) Close() error { return nil }

var _ vad.Classifier = (*Detector)(nil)
