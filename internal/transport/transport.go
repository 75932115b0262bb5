// Package transport defines the duplex channel between the session manager
// and the realtime voice backend.
//
// The session manager treats the backend as opaque: a [Dialer] performs the
// connect-and-handshake step and yields a [Conn] carrying outbound audio and
// control events and inbound [Message]s. The websocket implementation lives
// in package ws; package mock provides a scriptable double.
package transport

import (
	"context"
	"time"

	"github.com/MrWong99/voxconsole/internal/transport/protocol"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// Hello is the client side of the handshake.
type Hello struct {
	// Client identifies the client build and instance.
	Client string

	// Audio describes the binary frames that will be sent.
	Audio protocol.AudioFormat

	// VADMode is the effective client VAD strategy.
	VADMode string

	// ResumeSessionID asks the backend to continue an earlier session after
	// a reconnect. Empty for a fresh session.
	ResumeSessionID string
}

// Welcome is the server side of the handshake.
type Welcome struct {
	// SessionID is the backend-assigned session identifier.
	SessionID string

	// Latency is the time from dial to session.created.
	Latency time.Duration
}

// MessageKind classifies an inbound [Message].
type MessageKind int

const (
	// MsgHeartbeat is a server liveness signal.
	MsgHeartbeat MessageKind = iota + 1

	// MsgPong answers a ping sent by the client.
	MsgPong

	// MsgTranscript carries a transcript entry.
	MsgTranscript

	// MsgServerError is a non-fatal error reported by the backend.
	MsgServerError

	// MsgMalformed is an inbound frame that could not be decoded. Err is a
	// [types.KindTranscriptDecode] error.
	MsgMalformed
)

// Message is one inbound event.
type Message struct {
	Kind MessageKind

	// At is the local receive time.
	At time.Time

	// Entry is set for MsgTranscript.
	Entry types.TranscriptEntry

	// RTT is set for MsgPong.
	RTT time.Duration

	// Err is set for MsgServerError and MsgMalformed.
	Err error
}

// Dialer connects to the backend and performs the handshake.
type Dialer interface {
	// Dial returns once session.created has been received. Failures are
	// [types.KindHandshake] errors. Cancelling ctx aborts the handshake.
	Dial(ctx context.Context, hello Hello) (Conn, Welcome, error)
}

// Conn is an established session channel. All methods are safe for
// concurrent use.
type Conn interface {
	// SendAudio sends one encoded audio packet.
	SendAudio(ctx context.Context, packet []byte) error

	// SendSignal sends a body-less control event such as
	// [protocol.TypeSpeechStarted].
	SendSignal(ctx context.Context, t protocol.Type) error

	// SendPing sends a ping without waiting for the answer. The pong arrives
	// as a MsgPong on Messages.
	SendPing(ctx context.Context) error

	// Ping sends a ping and waits for its pong, returning the round-trip
	// time.
	Ping(ctx context.Context) (time.Duration, error)

	// Messages returns the inbound stream. It is closed when the connection
	// ends for any reason.
	Messages() <-chan Message

	// Err returns the reason the connection ended, or nil while it is open
	// or after a local Close.
	Err() error

	// Close ends the session and releases the connection. Safe to call more
	// than once.
	Close() error
}
