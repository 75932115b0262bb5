package vad

// EventType enumerates segmenter outputs.
type EventType int

const (
	// EventSpeechStart indicates an utterance has opened.
	EventSpeechStart EventType = iota + 1

	// EventSpeechEnd indicates an utterance long enough to count has closed.
	EventSpeechEnd

	// EventMisfire indicates an utterance closed before reaching the
	// minimum speech length. Consumers should treat the preceding
	// EventSpeechStart as cancelled.
	EventMisfire
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventMisfire:
		return "misfire"
	default:
		return "unknown"
	}
}

// Event is one segmenter transition.
type Event struct {
	Type EventType

	// Seq is the capture frame index that triggered the event.
	Seq uint64

	// Probability is the combined speech score of that frame.
	Probability float64

	// Mode is the effective strategy in force when the event fired.
	Mode Mode

	// SpeechFrames counts the positive frames in the utterance. Set on
	// EventSpeechEnd and EventMisfire.
	SpeechFrames int

	// Audio holds the utterance PCM including pre-speech padding. Set on
	// EventSpeechEnd only.
	Audio []byte
}
