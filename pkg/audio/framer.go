package audio

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Framer cuts a raw PCM byte stream into fixed-size [AudioFrame]s.
// It is not safe for concurrent use.
type Framer struct {
	r      io.Reader
	format Format
	seq    uint64
}

// NewFramer returns a Framer reading PCM in format f from r.
func NewFramer(r io.Reader, f Format) *Framer {
	return &Framer{r: r, format: f}
}

// Next blocks until a full frame has been read. It returns [io.EOF] when the
// stream ends on a frame boundary and [io.ErrUnexpectedEOF] when it ends
// mid-frame; the partial frame is discarded.
func (fr *Framer) Next() (AudioFrame, error) {
	buf := make([]byte, fr.format.FrameBytes())
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return AudioFrame{}, err
		}
		return AudioFrame{}, fmt.Errorf("audio: read frame %d: %w", fr.seq, err)
	}

	frame := AudioFrame{
		Data:       buf,
		SampleRate: fr.format.SampleRate,
		Channels:   fr.format.Channels,
		Seq:        fr.seq,
		Timestamp:  fr.format.FrameDuration() * time.Duration(fr.seq),
	}
	fr.seq++
	return frame, nil
}
