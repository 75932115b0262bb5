package session

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/MrWong99/voxconsole/internal/diagnostics"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// transitions lists the statuses reachable from each status through the
// manager's transition function. Entering connecting is handled by Start and
// entering disconnected by End.
var transitions = map[types.Status][]types.Status{
	types.StatusConnecting:   {types.StatusConnected, types.StatusError},
	types.StatusConnected:    {types.StatusListening, types.StatusReconnecting, types.StatusError},
	types.StatusListening:    {types.StatusReconnecting, types.StatusError},
	types.StatusReconnecting: {types.StatusConnected, types.StatusError},
}

func canTransition(from, to types.Status) bool {
	return slices.Contains(transitions[from], to)
}

// state is the single owned session record. It is only mutated by the
// manager while holding its mutex.
type state struct {
	status    types.Status
	gen       uint64
	sessionID string
	startedAt time.Time
	endedAt   time.Time
	cause     error
}

// State is a read-only projection of the session handed to consumers.
type State struct {
	Status     types.Status
	Generation uint64

	// SessionID is empty until the first successful handshake.
	SessionID string

	// StartedAt is the time of the first successful handshake.
	StartedAt time.Time

	// Duration is the time since StartedAt, frozen once the session ends.
	Duration time.Duration

	// Cause is the human-readable reason for StatusError.
	Cause string

	Speaking    bool
	Transcript  []types.TranscriptEntry
	Diagnostics diagnostics.Snapshot

	// VAD is the process-wide VAD configuration and EffectiveVAD the
	// strategy actually running.
	VAD          vad.Settings
	EffectiveVAD vad.Mode
}

type stateJSON struct {
	Status       types.Status            `json:"status"`
	Generation   uint64                  `json:"generation"`
	SessionID    *string                 `json:"session_id"`
	StartedAt    *time.Time              `json:"started_at"`
	DurationMs   int64                   `json:"duration_ms"`
	Cause        *string                 `json:"cause"`
	Speaking     bool                    `json:"speaking"`
	Transcript   []types.TranscriptEntry `json:"transcript"`
	Diagnostics  diagnostics.Snapshot    `json:"diagnostics"`
	VAD          vad.Settings            `json:"vad"`
	EffectiveVAD vad.Mode                `json:"effective_vad_mode"`
}

// MarshalJSON renders unset identifiers and timestamps as null.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		Status:       s.Status,
		Generation:   s.Generation,
		DurationMs:   s.Duration.Milliseconds(),
		Speaking:     s.Speaking,
		Transcript:   s.Transcript,
		Diagnostics:  s.Diagnostics,
		VAD:          s.VAD,
		EffectiveVAD: s.EffectiveVAD,
	}
	if s.SessionID != "" {
		out.SessionID = &s.SessionID
	}
	if !s.StartedAt.IsZero() {
		out.StartedAt = &s.StartedAt
	}
	if s.Cause != "" {
		out.Cause = &s.Cause
	}
	if out.Transcript == nil {
		out.Transcript = []types.TranscriptEntry{}
	}
	return json.Marshal(out)
}

func (st *state) duration(now time.Time) time.Duration {
	switch {
	case st.startedAt.IsZero():
		return 0
	case !st.endedAt.IsZero():
		return st.endedAt.Sub(st.startedAt)
	default:
		return now.Sub(st.startedAt)
	}
}
