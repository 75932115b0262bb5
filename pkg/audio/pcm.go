package audio

import (
	"encoding/binary"
	"math"
)

// SilenceFloor is the dBFS value reported for digital silence.
const SilenceFloor = -96.0

// BytesToInt16 decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian int16 PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToFloat32 decodes little-endian int16 PCM into samples in [-1, 1].
func BytesToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples in [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS converts an RMS amplitude to decibels relative to full scale. Zero
// amplitude maps to [SilenceFloor].
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return SilenceFloor
	}
	db := 20 * math.Log10(rms)
	if db < SilenceFloor {
		return SilenceFloor
	}
	return db
}
