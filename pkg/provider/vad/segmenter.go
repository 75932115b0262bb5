package vad

import "github.com/MrWong99/voxconsole/pkg/audio"

// Default segmenter parameters, in 32 ms frames.
const (
	DefaultOnsetFrames        = 1
	DefaultRedemptionFrames   = 8
	DefaultPreSpeechPadFrames = 1
	DefaultMinSpeechFrames    = 3
)

// SegmenterConfig holds the hysteresis parameters of a [Segmenter].
// Zero values select the defaults.
type SegmenterConfig struct {
	// OnsetFrames is the number of consecutive positive frames required to
	// open an utterance.
	OnsetFrames int

	// RedemptionFrames is the number of negative frames tolerated inside an
	// utterance before it closes.
	RedemptionFrames int

	// PreSpeechPadFrames is the number of frames before onset prepended to
	// the utterance audio so the first syllable is not clipped.
	PreSpeechPadFrames int

	// MinSpeechFrames is the minimum number of positive frames for an
	// utterance to be reported as speech rather than a misfire.
	MinSpeechFrames int
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.OnsetFrames <= 0 {
		c.OnsetFrames = DefaultOnsetFrames
	}
	if c.RedemptionFrames <= 0 {
		c.RedemptionFrames = DefaultRedemptionFrames
	}
	if c.PreSpeechPadFrames < 0 {
		c.PreSpeechPadFrames = 0
	}
	if c.MinSpeechFrames <= 0 {
		c.MinSpeechFrames = DefaultMinSpeechFrames
	}
	return c
}

// Decision is the classification of one frame fed to the segmenter.
type Decision int

const (
	// Neutral frames lie between the negative and positive thresholds. They
	// extend an open utterance without counting as speech or silence.
	Neutral Decision = iota

	// Positive frames count as speech.
	Positive

	// Negative frames count as silence.
	Negative
)

// Segmenter turns per-frame decisions into utterance events. It is not safe
// for concurrent use.
type Segmenter struct {
	cfg SegmenterConfig

	speaking     bool
	onset        int
	redemption   int
	speechFrames int
	pre          []audio.AudioFrame
	utterance    [][]byte
}

// NewSegmenter returns a Segmenter with cfg, filling in defaults.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults()}
}

// Config returns the effective parameters.
func (s *Segmenter) Config() SegmenterConfig { return s.cfg }

// Speaking reports whether an utterance is open.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Step feeds one frame and its decision. It returns the event produced by
// this frame, if any.
func (s *Segmenter) Step(frame audio.AudioFrame, d Decision) (Event, bool) {
	if !s.speaking {
		s.pushPre(frame)
		if d != Positive {
			s.onset = 0
			return Event{}, false
		}
		s.onset++
		if s.onset < s.cfg.OnsetFrames {
			return Event{}, false
		}
		s.speaking = true
		s.speechFrames = s.onset
		s.redemption = 0
		for _, f := range s.pre {
			s.utterance = append(s.utterance, f.Data)
		}
		s.pre = s.pre[:0]
		return Event{Type: EventSpeechStart, Seq: frame.Seq}, true
	}

	s.utterance = append(s.utterance, frame.Data)
	switch d {
	case Positive:
		s.speechFrames++
		s.redemption = 0
	case Negative:
		s.redemption++
		if s.redemption >= s.cfg.RedemptionFrames {
			ev := s.close()
			ev.Seq = frame.Seq
			return ev, true
		}
	}
	return Event{}, false
}

// Flush closes an open utterance immediately. It returns false when no
// utterance was open.
func (s *Segmenter) Flush() (Event, bool) {
	if !s.speaking {
		return Event{}, false
	}
	return s.close(), true
}

// Reset drops all state, including an open utterance, without emitting.
func (s *Segmenter) Reset() {
	s.speaking = false
	s.onset = 0
	s.redemption = 0
	s.speechFrames = 0
	s.pre = s.pre[:0]
	s.utterance = nil
}

func (s *Segmenter) close() Event {
	ev := Event{SpeechFrames: s.speechFrames}
	if s.speechFrames >= s.cfg.MinSpeechFrames {
		ev.Type = EventSpeechEnd
		size := 0
		for _, b := range s.utterance {
			size += len(b)
		}
		ev.Audio = make([]byte, 0, size)
		for _, b := range s.utterance {
			ev.Audio = append(ev.Audio, b...)
		}
	} else {
		ev.Type = EventMisfire
	}
	s.Reset()
	return ev
}

// pushPre keeps the most recent PreSpeechPadFrames+OnsetFrames frames.
func (s *Segmenter) pushPre(frame audio.AudioFrame) {
	limit := s.cfg.PreSpeechPadFrames + s.cfg.OnsetFrames
	s.pre = append(s.pre, frame)
	if len(s.pre) > limit {
		s.pre = append(s.pre[:0], s.pre[len(s.pre)-limit:]...)
	}
}
