package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxconsole/internal/observe"
	"github.com/MrWong99/voxconsole/internal/session"
	"github.com/MrWong99/voxconsole/internal/transcript"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// writeTimeout bounds each frame written to an event stream.
const writeTimeout = 5 * time.Second

// eventMessage is the wire form of a [types.SessionEvent]. The first message
// of every stream has type "snapshot" and carries the full state.
type eventMessage struct {
	Type       string                 `json:"type"`
	Generation uint64                 `json:"generation"`
	SessionID  string                 `json:"session_id,omitempty"`
	At         time.Time              `json:"at"`
	Status     types.Status           `json:"status,omitempty"`
	Previous   types.Status           `json:"previous,omitempty"`
	Attempt    int                    `json:"attempt,omitempty"`
	Entry      *types.TranscriptEntry `json:"entry,omitempty"`
	LatencyMs  *int64                 `json:"latency_ms,omitempty"`
	Speaking   *bool                  `json:"speaking,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
	State      *session.State         `json:"state,omitempty"`

	// Follow is set on snapshot and transcript messages: whether the view
	// should jump to the newest entry, per the client's last scroll report.
	Follow *bool `json:"follow,omitempty"`
}

// clientMessage is a frame sent by the client on /v1/events. The only type is
// "scroll", reporting the view's distance from the transcript tail.
type clientMessage struct {
	Type             string   `json:"type"`
	DistanceFromTail *float64 `json:"distance_from_tail"`
}

func toMessage(ev types.SessionEvent) eventMessage {
	msg := eventMessage{
		Type:       ev.Kind.String(),
		Generation: ev.Generation,
		SessionID:  ev.SessionID,
		At:         ev.At,
	}
	switch ev.Kind {
	case types.EventStatus:
		msg.Status, msg.Previous = ev.Status, ev.Previous
	case types.EventReconnectAttempt:
		msg.Attempt = ev.Attempt
	case types.EventTranscript:
		entry := ev.Entry
		msg.Entry = &entry
	case types.EventLatency:
		ms := ev.Latency.Milliseconds()
		msg.LatencyMs = &ms
	case types.EventSpeech:
		speaking := ev.Speaking
		msg.Speaking = &speaking
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
		if k := types.KindOf(ev.Err); k != 0 {
			msg.ErrorKind = k.String()
		}
	}
	return msg
}

// handleEvents upgrades to a websocket and streams session events. Each
// subscriber has its own bounded queue; when it is full new events are
// dropped for that subscriber only, so a slow client never blocks the
// session. Scroll reports from the client drive a per-stream
// [transcript.Follower] whose decision rides on every transcript message.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		observe.Logger(r.Context()).Debug("console: event stream upgrade failed", "err", err)
		return
	}
	defer c.CloseNow()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	log := observe.Logger(r.Context())

	follow := transcript.NewFollower(s.followThreshold)
	go readScroll(ctx, cancel, c, follow, log)

	queue := make(chan types.SessionEvent, s.eventBuffer)
	unsubscribe := s.sess.Subscribe(func(ev types.SessionEvent) {
		select {
		case queue <- ev:
		default:
			s.metrics.EventsDropped.Add(ctx, 1)
		}
	})
	defer unsubscribe()

	s.metrics.EventStreams.Add(ctx, 1)
	defer s.metrics.EventStreams.Add(context.WithoutCancel(ctx), -1)

	st := s.sess.State()
	snap := eventMessage{
		Type:       "snapshot",
		Generation: st.Generation,
		SessionID:  st.SessionID,
		At:         time.Now(),
		Status:     st.Status,
		State:      &st,
		Follow:     ptr(follow.ShouldFollow()),
	}
	if err := s.write(ctx, c, snap); err != nil {
		log.Debug("console: event stream closed", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-queue:
			msg := toMessage(ev)
			if ev.Kind == types.EventTranscript {
				msg.Follow = ptr(follow.ShouldFollow())
			}
			if err := s.write(ctx, c, msg); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("console: event stream write failed", "err", err)
				}
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, c *websocket.Conn, msg eventMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, msg)
}

// readScroll feeds client scroll reports into follow until the client goes
// away, then cancels the stream. Reading also services the close handshake.
func readScroll(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, follow *transcript.Follower, log *slog.Logger) {
	defer cancel()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "scroll" || msg.DistanceFromTail == nil {
			log.Debug("console: ignoring client frame", "frame", string(data))
			continue
		}
		follow.OnScroll(*msg.DistanceFromTail)
	}
}

func ptr[T any](v T) *T { return &v }
