package vad_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voxconsole/pkg/audio"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
	"github.com/MrWong99/voxconsole/pkg/provider/vad/mock"
)

func newEngine(s vad.Settings, rms, model vad.Classifier, cfg vad.EngineConfig) (*vad.Engine, *mock.Settings) {
	src := &mock.Settings{}
	src.Set(s)
	return vad.NewEngine(src, rms, model, cfg), src
}

func run(t *testing.T, e *vad.Engine, n int) []vad.Event {
	t.Helper()
	var out []vad.Event
	for i := range n {
		evs, err := e.Process(audio.AudioFrame{Data: make([]byte, 8), Seq: uint64(i)})
		if err != nil {
			t.Fatalf("Process frame %d: %v", i, err)
		}
		out = append(out, evs...)
	}
	return out
}

func scores(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSettings_EffectiveFallsBackWithoutModel(t *testing.T) {
	tests := []struct {
		mode      vad.Mode
		available bool
		want      vad.Mode
	}{
		{vad.ModeRMS, true, vad.ModeRMS},
		{vad.ModeSilero, true, vad.ModeSilero},
		{vad.ModeHybrid, true, vad.ModeHybrid},
		{vad.ModeRMS, false, vad.ModeRMS},
		{vad.ModeSilero, false, vad.ModeRMS},
		{vad.ModeHybrid, false, vad.ModeRMS},
		{"bogus", true, vad.ModeHybrid},
		{"bogus", false, vad.ModeRMS},
	}
	for _, tt := range tests {
		s := vad.Settings{Mode: tt.mode, SileroAvailable: tt.available}
		if got := s.Effective(); got != tt.want {
			t.Errorf("Effective(%q, available=%v) = %q, want %q", tt.mode, tt.available, got, tt.want)
		}
	}
}

func TestClampThreshold(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.5, 1},
		{-0.2, 0},
		{0.42, 0.42},
		{0, 0},
		{1, 1},
		{math.Inf(1), 1},
		{math.NaN(), vad.DefaultThreshold},
	}
	for _, tt := range tests {
		if got := vad.ClampThreshold(tt.in); got != tt.want {
			t.Errorf("ClampThreshold(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"rms", "silero", "hybrid"} {
		if _, err := vad.ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
		}
	}
	if _, err := vad.ParseMode("webrtc"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestEngine_RMSUtterance(t *testing.T) {
	rms := &mock.Classifier{Scores: append(scores(0.9, 3), scores(0.1, 8)...)}
	e, _ := newEngine(vad.Settings{Mode: vad.ModeRMS, Enabled: true, Threshold: 0.5}, rms, nil, vad.EngineConfig{})

	var published []vad.Event
	unsub := e.Events().Subscribe(func(ev vad.Event) { published = append(published, ev) })
	defer unsub()

	events := run(t, e, 11)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != vad.EventSpeechStart || events[1].Type != vad.EventSpeechEnd {
		t.Errorf("types = %v,%v, want speech_start,speech_end", events[0].Type, events[1].Type)
	}
	if got := len(events[1].Audio); got != 11*8 {
		t.Errorf("utterance bytes = %d, want %d", got, 11*8)
	}
	if len(published) != 2 {
		t.Errorf("published = %d, want 2", len(published))
	}
	if e.Speaking() {
		t.Error("engine still speaking after speech_end")
	}
}

func TestEngine_SileroUnavailableNeverCallsModel(t *testing.T) {
	for _, mode := range []vad.Mode{vad.ModeSilero, vad.ModeHybrid} {
		t.Run(string(mode), func(t *testing.T) {
			rms := &mock.Classifier{Default: 0.9}
			model := &mock.Classifier{Default: 0.9}
			e, _ := newEngine(vad.Settings{Mode: mode, Enabled: true, Threshold: 0.5, SileroAvailable: false}, rms, model, vad.EngineConfig{})

			run(t, e, 5)
			if model.Calls() != 0 {
				t.Errorf("model classified %d frames, want 0", model.Calls())
			}
			if e.Mode() != vad.ModeRMS {
				t.Errorf("effective mode = %q, want rms", e.Mode())
			}
		})
	}
}

func TestEngine_NilModelForcesRMS(t *testing.T) {
	rms := &mock.Classifier{Default: 0.2}
	e, _ := newEngine(vad.Settings{Mode: vad.ModeHybrid, Enabled: true, Threshold: 0.5, SileroAvailable: true}, rms, nil, vad.EngineConfig{})
	run(t, e, 2)
	if e.Mode() != vad.ModeRMS {
		t.Errorf("effective mode = %q, want rms", e.Mode())
	}
}

func TestEngine_HybridOnsetRequiresAgreement(t *testing.T) {
	// A transient click: loud but not speech-like.
	rms := &mock.Classifier{Scores: []float64{0.95, 0.95, 0.9}}
	model := &mock.Classifier{Scores: []float64{0.05, 0.1, 0.9}}
	e, _ := newEngine(vad.Settings{Mode: vad.ModeHybrid, Enabled: true, Threshold: 0.5, SileroAvailable: true}, rms, model, vad.EngineConfig{})

	events := run(t, e, 3)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Seq != 2 {
		t.Errorf("onset at frame %d, want 2", events[0].Seq)
	}
	if events[0].Mode != vad.ModeHybrid {
		t.Errorf("event mode = %q, want hybrid", events[0].Mode)
	}
}

func TestEngine_HybridWeightedOnset(t *testing.T) {
	rms := &mock.Classifier{Scores: []float64{0.2}}
	model := &mock.Classifier{Scores: []float64{0.8}}
	e, _ := newEngine(vad.Settings{Mode: vad.ModeHybrid, Enabled: true, Threshold: 0.5, SileroAvailable: true}, rms, model,
		vad.EngineConfig{HybridRule: vad.HybridWeighted, ModelWeight: 0.7})

	// 0.7*0.8 + 0.3*0.2 = 0.62 >= 0.5
	events := run(t, e, 1)
	if len(events) != 1 || events[0].Type != vad.EventSpeechStart {
		t.Fatalf("events = %+v, want speech_start", events)
	}
}

func TestEngine_HybridOffsetWaitsForBoth(t *testing.T) {
	// Start with agreement, then the amplitude drops while the model still
	// hears speech (soft voice), then both fall silent.
	rms := &mock.Classifier{Scores: append(append(scores(0.9, 3), scores(0.05, 10)...), scores(0.05, 8)...)}
	model := &mock.Classifier{Scores: append(append(scores(0.9, 3), scores(0.8, 10)...), scores(0.05, 8)...)}
	e, _ := newEngine(vad.Settings{Mode: vad.ModeHybrid, Enabled: true, Threshold: 0.5, SileroAvailable: true}, rms, model, vad.EngineConfig{})

	events := run(t, e, 13)
	if len(events) != 1 || !e.Speaking() {
		t.Fatalf("after soft speech: events=%d speaking=%v, want 1 and true", len(events), e.Speaking())
	}
	events = run(t, e, 8)
	if len(events) != 1 || events[0].Type != vad.EventSpeechEnd {
		t.Fatalf("after silence: events = %+v, want speech_end", events)
	}
	if events[0].SpeechFrames != 13 {
		t.Errorf("speech frames = %d, want 13", events[0].SpeechFrames)
	}
}

func TestEngine_RuntimeChangeKeepsUtterance(t *testing.T) {
	rms := &mock.Classifier{Default: 0.6}
	e, src := newEngine(vad.Settings{Mode: vad.ModeRMS, Enabled: true, Threshold: 0.5}, rms, nil, vad.EngineConfig{})

	run(t, e, 2)
	if !e.Speaking() {
		t.Fatal("expected speech to have started")
	}

	// Raising the threshold above the score makes the frames neutral; the
	// utterance must stay open rather than being reset.
	src.Set(vad.Settings{Mode: vad.ModeSilero, Enabled: true, Threshold: 0.7})
	events := run(t, e, 3)
	if len(events) != 0 {
		t.Errorf("events after change = %+v, want none", events)
	}
	if !e.Speaking() {
		t.Error("settings change interrupted the utterance")
	}
}

func TestEngine_DisableClosesUtterance(t *testing.T) {
	rms := &mock.Classifier{Default: 0.9}
	e, src := newEngine(vad.Settings{Mode: vad.ModeRMS, Enabled: true, Threshold: 0.5}, rms, nil, vad.EngineConfig{})
	run(t, e, 4)

	src.Set(vad.Settings{Mode: vad.ModeRMS, Enabled: false, Threshold: 0.5})
	events := run(t, e, 3)
	if len(events) != 1 || events[0].Type != vad.EventSpeechEnd {
		t.Fatalf("events = %+v, want one speech_end", events)
	}
	if e.Speaking() {
		t.Error("disabled engine still speaking")
	}
	if rms.Calls() != 4 {
		t.Errorf("classify calls = %d, want 4 (none while disabled)", rms.Calls())
	}
}

func TestEngine_ModelErrorFallsBackToRMS(t *testing.T) {
	rms := &mock.Classifier{Default: 0.9}
	model := &mock.Classifier{ClassifyErr: errors.New("onnx: session lost")}
	e, _ := newEngine(vad.Settings{Mode: vad.ModeSilero, Enabled: true, Threshold: 0.5, SileroAvailable: true}, rms, model, vad.EngineConfig{})

	evs, err := e.Process(audio.AudioFrame{Data: make([]byte, 8)})
	if err == nil {
		t.Fatal("expected classify error to be reported")
	}
	if len(evs) != 1 || evs[0].Type != vad.EventSpeechStart {
		t.Errorf("events = %+v, want speech_start from rms fallback", evs)
	}
}

func TestEngine_ResetAndClose(t *testing.T) {
	rms := &mock.Classifier{Default: 0.9}
	model := &mock.Classifier{}
	e, _ := newEngine(vad.Settings{Mode: vad.ModeRMS, Enabled: true, Threshold: 0.5, SileroAvailable: true}, rms, model, vad.EngineConfig{})
	run(t, e, 1)

	e.Reset()
	if e.Speaking() {
		t.Error("reset engine still speaking")
	}
	if rms.ResetCallCount != 1 || model.ResetCallCount != 1 {
		t.Errorf("reset counts rms=%d model=%d, want 1 each", rms.ResetCallCount, model.ResetCallCount)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rms.CloseCallCount != 1 || model.CloseCallCount != 1 {
		t.Errorf("close counts rms=%d model=%d, want 1 each", rms.CloseCallCount, model.CloseCallCount)
	}
}
