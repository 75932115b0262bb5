// Package types defines the shared types used across all voxconsole packages.
//
// These types form the lingua franca between the capture pipeline, the VAD
// engine, the session manager and its consumers. Each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// Status is the lifecycle state of a voice session.
type Status string

const (
	// StatusIdle is the initial state: no session has been started yet.
	StatusIdle Status = "idle"

	// StatusConnecting means the microphone is being opened and the transport
	// handshake is in flight.
	StatusConnecting Status = "connecting"

	// StatusConnected means the handshake succeeded but no outbound audio has
	// been accepted by the transport yet.
	StatusConnected Status = "connected"

	// StatusListening means audio is flowing to the backend.
	StatusListening Status = "listening"

	// StatusReconnecting is the transient state entered after a heartbeat
	// timeout or an unexpected transport drop.
	StatusReconnecting Status = "reconnecting"

	// StatusError is terminal until the next Start. The cause is recorded on
	// the session state.
	StatusError Status = "error"

	// StatusDisconnected is the clean terminal state reached through End.
	StatusDisconnected Status = "disconnected"
)

// IsActive reports whether s belongs to a live or starting session. A new
// session may not be started while the current status is active.
func (s Status) IsActive() bool {
	switch s {
	case StatusConnecting, StatusConnected, StatusListening, StatusReconnecting:
		return true
	}
	return false
}

// IsLive reports whether s has an established transport over which probes
// can be sent.
func (s Status) IsLive() bool {
	return s == StatusConnected || s == StatusListening
}

// IsTerminal reports whether s is one of the states only left through a
// fresh Start.
func (s Status) IsTerminal() bool {
	return s == StatusError || s == StatusDisconnected
}

// Speaker attributes a transcript entry to one side of the conversation.
type Speaker string

const (
	SpeakerSystem    Speaker = "System"
	SpeakerUser      Speaker = "User"
	SpeakerAssistant Speaker = "Assistant"
)

// IsValid reports whether s is a recognised speaker.
func (s Speaker) IsValid() bool {
	switch s {
	case SpeakerSystem, SpeakerUser, SpeakerAssistant:
		return true
	}
	return false
}

// TranscriptEntry is one utterance or system note in the session log.
// Entries are immutable once inserted.
type TranscriptEntry struct {
	// ID encodes the creation time as "<unix-millis>_<suffix>", e.g.
	// "1700000000000_a". The log is ordered by (millis, suffix).
	ID string `json:"id"`

	// Speaker identifies who produced the entry.
	Speaker Speaker `json:"speaker"`

	// Text is the utterance body.
	Text string `json:"text"`
}

// SessionEventKind classifies a [SessionEvent].
type SessionEventKind int

const (
	// EventStatus is emitted on every status transition.
	EventStatus SessionEventKind = iota

	// EventHeartbeat is emitted when a liveness signal arrives from the
	// backend.
	EventHeartbeat

	// EventReconnectAttempt is emitted right before each reconnection dial.
	EventReconnectAttempt

	// EventTranscript is emitted when an entry is accepted into the log.
	EventTranscript

	// EventLatency is emitted after a successful round-trip probe.
	EventLatency

	// EventError is emitted for non-fatal failures such as dropped
	// transcript events. Fatal failures ride on the EventStatus transition
	// into StatusError.
	EventError

	// EventSpeech is emitted when the VAD engine changes its speaking state.
	EventSpeech
)

// String returns the wire name of the event kind.
func (k SessionEventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventHeartbeat:
		return "heartbeat"
	case EventReconnectAttempt:
		return "reconnect_attempt"
	case EventTranscript:
		return "transcript"
	case EventLatency:
		return "latency"
	case EventError:
		return "error"
	case EventSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// SessionEvent is a single entry in the session manager's event stream.
// Only the fields relevant to Kind are populated.
type SessionEvent struct {
	Kind SessionEventKind

	// Generation identifies the session that produced the event. It increases
	// by one on every Start.
	Generation uint64

	// SessionID is the backend-assigned identifier, empty before the first
	// successful handshake.
	SessionID string

	// At is the wall-clock time of the event.
	At time.Time

	// Status and Previous are set for EventStatus.
	Status   Status
	Previous Status

	// Attempt is the 1-based reconnect attempt for EventReconnectAttempt.
	Attempt int

	// Entry is set for EventTranscript.
	Entry TranscriptEntry

	// Latency is set for EventLatency.
	Latency time.Duration

	// Err is set for EventError and for EventStatus transitions into
	// StatusError.
	Err error

	// Speaking is set for EventSpeech.
	Speaking bool
}
