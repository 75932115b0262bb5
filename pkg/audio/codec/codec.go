// Package codec encodes captured PCM frames for the realtime transport.
//
// Two encodings are provided: [PCM16], which forwards little-endian int16
// frames untouched, and [Opus], which packs 20 ms Opus packets using libopus
// through layeh.com/gopus. Encoders are stateful and must be created per
// capture stream.
package codec

import (
	"fmt"

	"github.com/MrWong99/voxconsole/pkg/audio"
)

// Name identifies an encoding on the wire and in configuration.
type Name string

const (
	NamePCM16 Name = "pcm16"
	NameOpus  Name = "opus"
)

// IsValid reports whether n is a supported encoding.
func (n Name) IsValid() bool {
	return n == NamePCM16 || n == NameOpus
}

// Encoder turns PCM frames into transport payloads. One input frame may
// produce zero, one or several packets depending on the codec's own framing.
// Not safe for concurrent use.
type Encoder interface {
	// Encode consumes one PCM frame and returns the packets ready to send.
	Encode(frame audio.AudioFrame) ([][]byte, error)

	// Name returns the encoding identifier announced in the handshake.
	Name() Name
}

// New returns an encoder for name configured for format f.
func New(name Name, f audio.Format) (Encoder, error) {
	switch name {
	case NamePCM16, "":
		return PCM16{}, nil
	case NameOpus:
		return NewOpus(f)
	default:
		return nil, fmt.Errorf("codec: unsupported encoding %q", name)
	}
}

// PCM16 is the passthrough encoder.
type PCM16 struct{}

// Encode returns the frame data as a single packet.
func (PCM16) Encode(frame audio.AudioFrame) ([][]byte, error) {
	if len(frame.Data)%2 != 0 {
		return nil, fmt.Errorf("codec: pcm16 frame has odd byte count %d", len(frame.Data))
	}
	return [][]byte{frame.Data}, nil
}

// Name returns [NamePCM16].
func (PCM16) Name() Name { return NamePCM16 }

var _ Encoder = PCM16{}
