package audio_test

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxconsole/pkg/audio"
)

func TestFormat_Derived(t *testing.T) {
	f := audio.DefaultFormat()
	if got := f.FrameBytes(); got != 1024 {
		t.Errorf("FrameBytes = %d, want 1024", got)
	}
	if got := f.FrameDuration(); got != 32*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 32ms", got)
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := (audio.Format{SampleRate: 16000, Channels: 1}).Validate(); err == nil {
		t.Error("expected error for zero frame size")
	}
}

func TestRMSAndDBFS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		wantRMS float64
		wantDB  float64
	}{
		{"silence", make([]float32, 64), 0, audio.SilenceFloor},
		{"full scale square", []float32{1, -1, 1, -1}, 1, 0},
		{"half scale", []float32{0.5, -0.5}, 0.5, 20 * math.Log10(0.5)},
		{"empty", nil, 0, audio.SilenceFloor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rms := audio.RMS(tt.samples)
			if math.Abs(rms-tt.wantRMS) > 1e-9 {
				t.Errorf("RMS = %v, want %v", rms, tt.wantRMS)
			}
			if db := audio.DBFS(rms); math.Abs(db-tt.wantDB) > 1e-9 {
				t.Errorf("DBFS = %v, want %v", db, tt.wantDB)
			}
		})
	}
}

func TestPCMRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	got := audio.BytesToInt16(audio.Int16ToBytes(samples))
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
	f := audio.BytesToFloat32(audio.Int16ToBytes([]int16{-32768, 16384}))
	if f[0] != -1 || f[1] != 0.5 {
		t.Errorf("BytesToFloat32 = %v, want [-1 0.5]", f)
	}
}

func TestFramer(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1, FrameSamples: 4}
	// Two full frames and a 3-byte tail.
	data := make([]byte, 2*f.FrameBytes()+3)
	for i := range data {
		data[i] = byte(i)
	}
	fr := audio.NewFramer(bytes.NewReader(data), f)

	first, err := fr.Next()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	second, err := fr.Next()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if first.Seq != 0 || second.Seq != 1 {
		t.Errorf("seq = %d,%d, want 0,1", first.Seq, second.Seq)
	}
	if second.Timestamp != f.FrameDuration() {
		t.Errorf("second timestamp = %v, want %v", second.Timestamp, f.FrameDuration())
	}
	if !bytes.Equal(second.Data, data[8:16]) {
		t.Errorf("second frame data = %v, want %v", second.Data, data[8:16])
	}
	if _, err := fr.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("tail: err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDownmixToMono(t *testing.T) {
	stereo := audio.Int16ToBytes([]int16{100, 200, -100, -200, 32767, 32767})
	got := audio.BytesToInt16(audio.DownmixToMono(stereo, 2))
	want := []int16{150, -150, 32767}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate", func(t *testing.T) {
		in := audio.Int16ToBytes([]int16{1, 2, 3})
		if out := audio.ResampleMono16(in, 16000, 16000); !bytes.Equal(in, out) {
			t.Error("same-rate resample must return the input unchanged")
		}
	})
	t.Run("downsample 48k to 16k", func(t *testing.T) {
		in := audio.Int16ToBytes(make([]int16, 480))
		out := audio.ResampleMono16(in, 48000, 16000)
		if got := len(out) / 2; got != 160 {
			t.Errorf("samples = %d, want 160", got)
		}
	})
	t.Run("zero rate", func(t *testing.T) {
		in := audio.Int16ToBytes([]int16{5})
		if out := audio.ResampleMono16(in, 0, 16000); !bytes.Equal(in, out) {
			t.Error("invalid rate must return the input unchanged")
		}
	})
}

func TestConvertReader(t *testing.T) {
	src := audio.Format{SampleRate: 48000, Channels: 2}
	dst := audio.DefaultFormat()

	// 40 ms of constant stereo signal.
	frames := 48000 / 25
	samples := make([]int16, frames*2)
	for i := range samples {
		samples[i] = 1000
	}
	r := audio.NewConvertReader(bytes.NewReader(audio.Int16ToBytes(samples)), src, dst)
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	got := audio.BytesToInt16(out)
	if len(got) != 640 {
		t.Fatalf("converted samples = %d, want 640", len(got))
	}
	for i, s := range got {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i, s)
		}
	}
}

func TestConvertReader_Passthrough(t *testing.T) {
	in := bytes.NewReader([]byte{1, 2})
	if r := audio.NewConvertReader(in, audio.DefaultFormat(), audio.DefaultFormat()); r != io.Reader(in) {
		t.Error("matching formats must return the source reader")
	}
}
