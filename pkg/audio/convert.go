package audio

import (
	"fmt"
	"io"
	"log/slog"
)

// NewConvertReader returns a reader that converts PCM read from r in format
// src into mono PCM at dst.SampleRate. When the formats already match, r is
// returned unchanged.
//
// Conversion order is downmix first, then resample, so that only one channel
// is ever interpolated.
func NewConvertReader(r io.Reader, src, dst Format) io.Reader {
	if src.SampleRate == dst.SampleRate && src.Channels == dst.Channels {
		return r
	}
	slog.Warn("audio: capture format differs from pipeline format, converting",
		"from", formatString(src.SampleRate, src.Channels),
		"to", formatString(dst.SampleRate, dst.Channels),
	)
	// 20 ms chunks keep interpolation seams inaudible.
	chunk := src.SampleRate / 50 * src.Channels * 2
	if chunk <= 0 {
		chunk = 1024
	}
	return &convertReader{r: r, src: src, dst: dst, in: make([]byte, chunk)}
}

type convertReader struct {
	r   io.Reader
	src Format
	dst Format
	in  []byte
	out []byte
	err error
}

func (c *convertReader) Read(p []byte) (int, error) {
	for len(c.out) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		n, err := io.ReadFull(c.r, c.in)
		if n > 0 {
			c.out = c.convert(c.in[:n])
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			c.err = err
		}
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

func (c *convertReader) convert(pcm []byte) []byte {
	frameBytes := c.src.Channels * 2
	pcm = pcm[:len(pcm)/frameBytes*frameBytes]
	if c.src.Channels > 1 {
		pcm = DownmixToMono(pcm, c.src.Channels)
	}
	return ResampleMono16(pcm, c.src.SampleRate, c.dst.SampleRate)
}

// DownmixToMono averages interleaved int16 PCM with the given channel count
// into a single channel.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	samples := BytesToInt16(pcm)
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return Int16ToBytes(out)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := BytesToInt16(pcm)
	dstLen := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := src[idx]
		s1 := s0
		if idx+1 < len(src) {
			s1 = src[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return Int16ToBytes(out)
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
