package vad

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxconsole/pkg/audio"
	"github.com/MrWong99/voxconsole/pkg/event"
)

// Hybrid combination defaults.
const (
	DefaultNegativeOffset = 0.15
	DefaultModelWeight    = 0.7
)

// HybridRule selects how hybrid mode decides speech onset.
type HybridRule string

const (
	// HybridAgreement opens an utterance only when both detectors score at
	// or above the threshold on the same frame.
	HybridAgreement HybridRule = "agreement"

	// HybridWeighted opens an utterance when the weighted mean
	// w*model + (1-w)*rms reaches the threshold.
	HybridWeighted HybridRule = "weighted"
)

// IsValid reports whether r is a recognised rule.
func (r HybridRule) IsValid() bool {
	return r == HybridAgreement || r == HybridWeighted
}

// EngineConfig configures an [Engine].
type EngineConfig struct {
	Segmenter SegmenterConfig

	// NegativeOffset is subtracted from the threshold to obtain the silence
	// threshold. Defaults to 0.15; the result is clamped at 0.
	NegativeOffset float64

	// HybridRule selects the onset rule for hybrid mode. Defaults to
	// [HybridAgreement].
	HybridRule HybridRule

	// ModelWeight is w in the weighted hybrid rule. Defaults to 0.7.
	ModelWeight float64
}

// Engine runs voice activity detection over a stream of frames.
//
// Process must be called from a single goroutine. Speaking, Mode and Events
// are safe for concurrent use.
type Engine struct {
	src   SettingsSource
	rms   Classifier
	model Classifier
	cfg   EngineConfig
	bus   event.Bus[Event]

	seg     *Segmenter
	version uint64
	loaded  bool
	current Settings

	speaking  atomic.Bool
	effective atomic.Value // Mode

	warnOnce sync.Once
}

// NewEngine creates an engine. rms must be non-nil; model may be nil when the
// neural model is unavailable, in which case every mode runs as rms.
func NewEngine(src SettingsSource, rms, model Classifier, cfg EngineConfig) *Engine {
	if cfg.NegativeOffset <= 0 {
		cfg.NegativeOffset = DefaultNegativeOffset
	}
	if !cfg.HybridRule.IsValid() {
		cfg.HybridRule = HybridAgreement
	}
	if cfg.ModelWeight <= 0 || cfg.ModelWeight > 1 {
		cfg.ModelWeight = DefaultModelWeight
	}
	e := &Engine{
		src:   src,
		rms:   rms,
		model: model,
		cfg:   cfg,
		seg:   NewSegmenter(cfg.Segmenter),
	}
	e.effective.Store(ModeRMS)
	return e
}

// Events returns the bus on which segmenter events are published.
func (e *Engine) Events() *event.Bus[Event] { return &e.bus }

// Speaking reports whether an utterance is currently open.
func (e *Engine) Speaking() bool { return e.speaking.Load() }

// Mode returns the effective strategy used for the most recent frame.
func (e *Engine) Mode() Mode { return e.effective.Load().(Mode) }

// Process classifies one frame, advances the segmenter and publishes any
// resulting event. The returned events are the ones just published.
func (e *Engine) Process(frame audio.AudioFrame) ([]Event, error) {
	var out []Event
	if ev, ok := e.refresh(); ok {
		out = append(out, ev)
	}

	s := e.current
	if !s.Enabled {
		e.publish(out)
		return out, nil
	}

	mode := s.Effective()
	if e.model == nil {
		mode = ModeRMS
	}
	e.effective.Store(mode)

	samples := frame.Float32()
	d, score, err := e.decide(mode, s.Threshold, samples)
	if ev, ok := e.seg.Step(frame, d); ok {
		ev.Probability = score
		ev.Mode = mode
		out = append(out, ev)
	}
	e.publish(out)
	return out, err
}

// Reset clears segmenter and classifier state. Call it between sessions.
func (e *Engine) Reset() {
	e.seg.Reset()
	e.rms.Reset()
	if e.model != nil {
		e.model.Reset()
	}
	e.speaking.Store(false)
}

// Close releases both classifiers.
func (e *Engine) Close() error {
	err := e.rms.Close()
	if e.model != nil {
		if mErr := e.model.Close(); mErr != nil && err == nil {
			err = mErr
		}
	}
	return err
}

// refresh re-reads settings when their version moved. Disabling detection
// while an utterance is open closes it.
func (e *Engine) refresh() (Event, bool) {
	s, v := e.src.Snapshot()
	if e.loaded && v == e.version {
		return Event{}, false
	}
	prev := e.current
	e.current = s
	e.version = v
	e.loaded = true

	if prev.Enabled && !s.Enabled {
		if ev, ok := e.seg.Flush(); ok {
			ev.Mode = e.Mode()
			return ev, true
		}
	}
	return Event{}, false
}

// decide maps classifier scores to a segmenter decision for mode.
func (e *Engine) decide(mode Mode, threshold float64, samples []float32) (Decision, float64, error) {
	neg := max(threshold-e.cfg.NegativeOffset, 0)

	rmsScore, err := e.rms.Classify(samples)
	if err != nil {
		return Neutral, 0, fmt.Errorf("vad: rms classify: %w", err)
	}
	if mode == ModeRMS {
		return decision(rmsScore, threshold, neg), rmsScore, nil
	}

	modelScore, err := e.model.Classify(samples)
	if err != nil {
		// Keep the stream alive on the amplitude detector for this frame.
		e.warnOnce.Do(func() {
			slog.Warn("vad: model classify failed, using rms for affected frames", "err", err)
		})
		return decision(rmsScore, threshold, neg), rmsScore, fmt.Errorf("vad: model classify: %w", err)
	}
	if mode == ModeSilero {
		return decision(modelScore, threshold, neg), modelScore, nil
	}

	// Hybrid.
	combined := e.cfg.ModelWeight*modelScore + (1-e.cfg.ModelWeight)*rmsScore
	var onset bool
	if e.cfg.HybridRule == HybridAgreement {
		onset = rmsScore >= threshold && modelScore >= threshold
	} else {
		onset = combined >= threshold
	}
	switch {
	case onset:
		return Positive, combined, nil
	case rmsScore < neg && modelScore < neg:
		return Negative, combined, nil
	case e.seg.Speaking() && (rmsScore >= threshold || modelScore >= threshold):
		// Either detector still hearing speech keeps redemption from
		// accumulating inside an utterance.
		return Positive, combined, nil
	default:
		return Neutral, combined, nil
	}
}

func decision(score, pos, neg float64) Decision {
	switch {
	case score >= pos:
		return Positive
	case score < neg:
		return Negative
	default:
		return Neutral
	}
}

func (e *Engine) publish(events []Event) {
	for _, ev := range events {
		switch ev.Type {
		case EventSpeechStart:
			e.speaking.Store(true)
		case EventSpeechEnd, EventMisfire:
			e.speaking.Store(false)
		}
		e.bus.Publish(ev)
	}
}
