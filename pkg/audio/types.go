// Package audio holds the PCM primitives shared by the capture pipeline, the
// VAD engine and the codecs.
//
// All PCM in voxconsole is signed 16-bit little-endian. The default capture
// format is 16 kHz mono cut into 512-sample (32 ms) frames, which is the
// window size expected by the Silero model.
package audio

import (
	"fmt"
	"time"
)

// Default capture parameters.
const (
	DefaultSampleRate   = 16000
	DefaultChannels     = 1
	DefaultFrameSamples = 512
)

// Format describes the sample rate, channel count and frame size of a PCM
// stream.
type Format struct {
	SampleRate int
	Channels   int

	// FrameSamples is the number of samples per channel in one frame.
	FrameSamples int
}

// DefaultFormat returns the 16 kHz mono, 512-sample format.
func DefaultFormat() Format {
	return Format{
		SampleRate:   DefaultSampleRate,
		Channels:     DefaultChannels,
		FrameSamples: DefaultFrameSamples,
	}
}

// FrameBytes returns the byte length of one frame.
func (f Format) FrameBytes() int {
	return f.FrameSamples * f.Channels * 2
}

// FrameDuration returns the wall-clock length of one frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSamples) * time.Second / time.Duration(f.SampleRate)
}

// Validate reports whether f describes a usable stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channels must be positive, got %d", f.Channels)
	}
	if f.FrameSamples <= 0 {
		return fmt.Errorf("audio: frame samples must be positive, got %d", f.FrameSamples)
	}
	return nil
}

// String returns e.g. "16000Hz mono/512".
func (f Format) String() string {
	return fmt.Sprintf("%s/%d", formatString(f.SampleRate, f.Channels), f.FrameSamples)
}

// AudioFrame is one fixed-size block of captured PCM.
type AudioFrame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	SampleRate int
	Channels   int

	// Seq is the 0-based frame index within the capture stream.
	Seq uint64

	// Timestamp is the offset of the first sample from the stream start.
	Timestamp time.Duration
}

// Samples returns the frame as int16 samples.
func (f AudioFrame) Samples() []int16 {
	return BytesToInt16(f.Data)
}

// Float32 returns the frame normalised to [-1, 1].
func (f AudioFrame) Float32() []float32 {
	return BytesToFloat32(f.Data)
}
