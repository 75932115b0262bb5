package codec

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxconsole/pkg/audio"
)

const (
	// opusFrameMs is the Opus packet duration.
	opusFrameMs = 20

	// opusMaxPacket bounds the size of one encoded packet.
	opusMaxPacket = 4000
)

// Opus buffers incoming PCM and emits one packet per 20 ms of audio. Capture
// frames are 32 ms, so packets and frames do not line up; leftover samples
// are carried into the next call.
type Opus struct {
	enc       *gopus.Encoder
	channels  int
	frameSize int // samples per channel per packet
	pending   []int16
}

// NewOpus creates an Opus encoder for format f. Opus supports 8, 12, 16, 24
// and 48 kHz.
func NewOpus(f audio.Format) (*Opus, error) {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("codec: opus does not support %d Hz", f.SampleRate)
	}
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}
	return &Opus{
		enc:       enc,
		channels:  f.Channels,
		frameSize: f.SampleRate * opusFrameMs / 1000,
	}, nil
}

// Encode appends frame to the pending buffer and encodes every complete
// 20 ms packet.
func (o *Opus) Encode(frame audio.AudioFrame) ([][]byte, error) {
	o.pending = append(o.pending, frame.Samples()...)

	step := o.frameSize * o.channels
	var packets [][]byte
	for len(o.pending) >= step {
		pkt, err := o.enc.Encode(o.pending[:step], o.frameSize, opusMaxPacket)
		if err != nil {
			return packets, fmt.Errorf("codec: opus encode: %w", err)
		}
		packets = append(packets, pkt)
		o.pending = o.pending[step:]
	}
	// Compact so the backing array does not grow without bound.
	o.pending = append(o.pending[:0:0], o.pending...)
	return packets, nil
}

// Pending returns the number of buffered samples not yet encoded.
func (o *Opus) Pending() int { return len(o.pending) }

// Name returns [NameOpus].
func (o *Opus) Name() Name { return NameOpus }

var _ Encoder = (*Opus)(nil)
