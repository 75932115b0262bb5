package codec

import (
	"testing"

	"github.com/MrWong99/voxconsole/pkg/audio"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    Name
		want    Name
		wantErr bool
	}{
		{"", NamePCM16, false},
		{NamePCM16, NamePCM16, false},
		{NameOpus, NameOpus, false},
		{"mp3", "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			enc, err := New(tt.name, audio.DefaultFormat())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if enc.Name() != tt.want {
				t.Errorf("Name = %q, want %q", enc.Name(), tt.want)
			}
		})
	}
}

func TestPCM16_Passthrough(t *testing.T) {
	frame := audio.AudioFrame{Data: []byte{1, 2, 3, 4}}
	pkts, err := PCM16{}.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(pkts) != 1 || len(pkts[0]) != 4 {
		t.Fatalf("packets = %v, want one 4-byte packet", pkts)
	}
	if _, err := (PCM16{}).Encode(audio.AudioFrame{Data: []byte{1}}); err == nil {
		t.Error("expected error for odd byte count")
	}
}

func TestOpus_BuffersAcrossFrames(t *testing.T) {
	enc, err := NewOpus(audio.DefaultFormat())
	if err != nil {
		t.Fatalf("NewOpus: %v", err)
	}
	frame := audio.AudioFrame{Data: make([]byte, audio.DefaultFormat().FrameBytes())}

	// 512 samples: one 320-sample packet, 192 left over.
	pkts, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(pkts) != 1 {
		t.Errorf("first frame packets = %d, want 1", len(pkts))
	}
	if enc.Pending() != 192 {
		t.Errorf("pending = %d, want 192", enc.Pending())
	}

	// 192 + 512 = 704: two packets, 64 left over.
	pkts, err = enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(pkts) != 2 {
		t.Errorf("second frame packets = %d, want 2", len(pkts))
	}
	if enc.Pending() != 64 {
		t.Errorf("pending = %d, want 64", enc.Pending())
	}
}

func TestNewOpus_UnsupportedRate(t *testing.T) {
	if _, err := NewOpus(audio.Format{SampleRate: 44100, Channels: 1, FrameSamples: 441}); err == nil {
		t.Error("expected error for 44.1 kHz")
	}
}
