package types

import "errors"

// ErrorKind classifies a failure of the voice session stack.
type ErrorKind int

const (
	// KindHandshake means the transport could not establish a session.
	// Terminal unless the caller retries.
	KindHandshake ErrorKind = iota + 1

	// KindHeartbeatTimeout means the backend stopped answering. Recovered
	// locally through bounded reconnection.
	KindHeartbeatTimeout

	// KindAudioCapture means the microphone is unavailable or permission was
	// denied. Surfaced immediately, never retried automatically.
	KindAudioCapture

	// KindVADAssetLoad means the model-based detector could not be loaded.
	// Non-fatal: the effective VAD mode falls back to rms.
	KindVADAssetLoad

	// KindTranscriptDecode means an inbound event was malformed. The event is
	// dropped and the session continues.
	KindTranscriptDecode
)

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindHandshake:
		return "HandshakeFailure"
	case KindHeartbeatTimeout:
		return "HeartbeatTimeout"
	case KindAudioCapture:
		return "AudioCaptureError"
	case KindVADAssetLoad:
		return "VADAssetLoadError"
	case KindTranscriptDecode:
		return "TranscriptDecodeError"
	default:
		return "UnknownError"
	}
}

// Sentinels matching every [Error] of the corresponding kind through
// [errors.Is].
var (
	ErrHandshake        = &Error{Kind: KindHandshake}
	ErrHeartbeatTimeout = &Error{Kind: KindHeartbeatTimeout}
	ErrAudioCapture     = &Error{Kind: KindAudioCapture}
	ErrVADAssetLoad     = &Error{Kind: KindVADAssetLoad}
	ErrTranscriptDecode = &Error{Kind: KindTranscriptDecode}
)

// Error is a classified failure. Op names the operation that failed and Err
// carries the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with kind and op.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error returns a human-readable cause string suitable for display.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an [*Error] of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first [*Error] in err's chain, or zero when
// err is unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
