// Package protocol defines the JSON wire messages exchanged with the realtime
// voice backend.
//
// Control messages travel as websocket text frames carrying a JSON object
// with a "type" discriminator. Encoded microphone audio travels as binary
// frames with no envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the protocol version announced in session.start.
const Version = 1

// Type discriminates wire messages.
type Type string

// Client to server.
const (
	TypeSessionStart  Type = "session.start"
	TypePing          Type = "ping"
	TypeSpeechStarted Type = "input.speech_started"
	TypeSpeechStopped Type = "input.speech_stopped"
	TypeSessionEnd    Type = "session.end"
)

// Server to client.
const (
	TypeSessionCreated Type = "session.created"
	TypeHeartbeat      Type = "heartbeat"
	TypePong           Type = "pong"
	TypeTranscript     Type = "transcript"
	TypeError          Type = "error"
)

// AudioFormat describes the binary audio frames a client sends.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// VADInfo tells the backend which client-side VAD mode is in effect.
type VADInfo struct {
	Mode string `json:"mode"`
}

// SessionStart opens or resumes a session.
type SessionStart struct {
	Type            Type        `json:"type"`
	ProtocolVersion int         `json:"protocol_version"`
	Client          string      `json:"client"`
	Audio           AudioFormat `json:"audio"`
	VAD             VADInfo     `json:"vad"`
	ResumeSessionID string      `json:"resume_session_id,omitempty"`
}

// Ping requests a pong echoing ID and SentAtMs.
type Ping struct {
	Type     Type   `json:"type"`
	ID       string `json:"id"`
	SentAtMs int64  `json:"sent_at_ms"`
}

// Signal is a body-less client event such as input.speech_started.
type Signal struct {
	Type Type `json:"type"`
}

// Entry is a transcript entry on the wire.
type Entry struct {
	ID      string `json:"id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ErrorBody is the payload of an error message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (e *ErrorBody) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// ServerEvent is the union of every server message. Only the fields for Type
// are populated.
type ServerEvent struct {
	Type Type `json:"type"`

	// session.created
	SessionID string `json:"session_id,omitempty"`

	// heartbeat
	TsMs int64 `json:"ts_ms,omitempty"`

	// pong
	ID       string `json:"id,omitempty"`
	SentAtMs int64  `json:"sent_at_ms,omitempty"`

	// transcript
	Entry *Entry `json:"entry,omitempty"`

	// error
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrUnknownType is returned by [DecodeServer] for well-formed messages of a
// type this client does not understand. Callers should ignore them.
var ErrUnknownType = errors.New("protocol: unknown message type")

// DecodeServer parses one server text frame and checks the fields required by
// its type.
func DecodeServer(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("protocol: decode: %w", err)
	}
	switch ev.Type {
	case TypeSessionCreated:
		if ev.SessionID == "" {
			return ev, errors.New("protocol: session.created without session_id")
		}
	case TypeHeartbeat:
	case TypePong:
		if ev.ID == "" {
			return ev, errors.New("protocol: pong without id")
		}
	case TypeTranscript:
		if ev.Entry == nil {
			return ev, errors.New("protocol: transcript without entry")
		}
	case TypeError:
		if ev.Error == nil {
			ev.Error = &ErrorBody{Message: "unspecified server error"}
		}
	case "":
		return ev, errors.New("protocol: message without type")
	default:
		return ev, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
	return ev, nil
}

// Encode marshals a client message.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}
