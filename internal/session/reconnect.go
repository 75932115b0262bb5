package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxconsole/internal/observe"
	"github.com/MrWong99/voxconsole/internal/transport"
	"github.com/MrWong99/voxconsole/internal/transport/protocol"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// link is one established transport connection within a run. A run replaces
// its link on every successful reconnection.
type link struct {
	conn  transport.Conn
	alive chan struct{} // signalled on every liveness message
	done  chan struct{} // closed when the link is retired
	once  sync.Once
}

func newLink(conn transport.Conn) *link {
	return &link{
		conn:  conn,
		alive: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (l *link) markAlive() {
	select {
	case l.alive <- struct{}{}:
	default:
	}
}

// retire stops the link goroutines and closes the connection. Safe to call
// more than once.
func (l *link) retire() {
	l.once.Do(func() {
		close(l.done)
		if err := l.conn.Close(); err != nil {
			slog.Debug("session: closing transport", "err", err)
		}
	})
}

func (l *link) retired() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// dial performs one handshake for r. Unclassified dialer errors are reported
// as [types.KindHandshake].
func (m *Manager) dial(ctx context.Context, r *run, resumeID string) (*link, transport.Welcome, error) {
	hello := transport.Hello{
		Client: r.cfg.Client,
		Audio: protocol.AudioFormat{
			Encoding:     string(r.pipeline.Encoder().Name()),
			SampleRateHz: r.cfg.Capture.Format.SampleRate,
			Channels:     r.cfg.Capture.Format.Channels,
		},
		VADMode:         string(m.effectiveVAD()),
		ResumeSessionID: resumeID,
	}

	ctx, span := observe.StartSpan(ctx, "session.handshake",
		trace.WithAttributes(
			attribute.Int64("generation", int64(r.gen)),
			attribute.Bool("resume", resumeID != ""),
		),
	)
	defer span.End()

	start := time.Now()
	conn, welcome, err := m.dialer.Dial(ctx, hello)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.metrics.HandshakeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("outcome", outcome)),
	)
	if err != nil {
		if types.KindOf(err) == 0 {
			err = types.NewError(types.KindHandshake, "dial", err)
		}
		observe.RecordError(span, err)
		return nil, transport.Welcome{}, err
	}
	span.SetAttributes(attribute.String("session_id", welcome.SessionID))
	return newLink(conn), welcome, nil
}

// readLoop consumes inbound messages of l until the connection ends.
func (m *Manager) readLoop(r *run, l *link) {
	defer r.wg.Done()

	for msg := range l.conn.Messages() {
		if l.retired() {
			continue
		}
		switch msg.Kind {
		case transport.MsgHeartbeat, transport.MsgPong:
			l.markAlive()
			m.emit(r, types.SessionEvent{Kind: types.EventHeartbeat, At: msg.At})
		case transport.MsgTranscript:
			m.receive(r, msg.Entry)
		case transport.MsgServerError, transport.MsgMalformed:
			slog.Warn("session: inbound event dropped", "generation", r.gen, "err", msg.Err)
			m.emit(r, types.SessionEvent{Kind: types.EventError, At: msg.At, Err: msg.Err})
		}
	}

	if l.retired() {
		return
	}
	cause := l.conn.Err()
	if cause == nil {
		cause = errors.New("transport closed by peer")
	}
	m.lost(r, l, cause)
}

// heartbeatLoop pings the backend every interval and declares the link lost
// when no liveness signal arrives within the timeout.
func (m *Manager) heartbeatLoop(r *run, l *link) {
	defer r.wg.Done()

	ping := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ping.Stop()
	watchdog := time.NewTimer(r.cfg.HeartbeatTimeout)
	defer watchdog.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-l.done:
			return
		case <-l.alive:
			watchdog.Reset(r.cfg.HeartbeatTimeout)
		case <-ping.C:
			if err := l.conn.SendPing(r.ctx); err != nil {
				slog.Debug("session: heartbeat ping failed", "generation", r.gen, "err", err)
			}
		case <-watchdog.C:
			m.lost(r, l, types.NewError(types.KindHeartbeatTimeout, "heartbeat",
				fmt.Errorf("no liveness signal for %s", r.cfg.HeartbeatTimeout)))
			return
		}
	}
}

// lost moves r into reconnecting when l is still its live link and starts
// the reconnection loop.
func (m *Manager) lost(r *run, l *link, cause error) {
	var id string
	ok := m.transition(r, types.StatusReconnecting, func(st *state) bool {
		if r.link != l {
			return false
		}
		r.link = nil
		r.wg.Add(1)
		id = st.sessionID
		return true
	})
	if !ok {
		return
	}
	l.retire()
	r.pipeline.SetSink(nil)

	slog.Warn("session: connection lost",
		"session_id", id,
		"generation", r.gen,
		"err", cause,
	)
	go m.reconnect(r, id, cause)
}

// reconnect dials with bounded exponential backoff until a handshake
// succeeds, the budget runs out or the run is cancelled.
func (m *Manager) reconnect(r *run, resumeID string, cause error) {
	defer r.wg.Done()

	policy := r.cfg.Reconnect
	lastErr := cause
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if r.ctx.Err() != nil {
			return
		}
		if !m.emit(r, types.SessionEvent{Kind: types.EventReconnectAttempt, Attempt: attempt}) {
			return
		}
		m.note(r, fmt.Sprintf("Reconnecting (attempt %d)", attempt))

		slog.Info("session: attempting reconnection",
			"session_id", resumeID,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
		)

		l, welcome, err := m.dial(r.ctx, r, resumeID)
		if err == nil {
			if !m.attach(r, l, welcome) {
				l.retire()
			}
			return
		}
		lastErr = err

		slog.Warn("session: reconnection attempt failed",
			"session_id", resumeID,
			"attempt", attempt,
			"err", err,
		)
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(policy.Delay(attempt)):
		}
	}

	if r.ctx.Err() != nil {
		return
	}
	m.fail(r, types.NewError(types.KindHeartbeatTimeout, "reconnect",
		fmt.Errorf("gave up after %d attempts: %w", policy.MaxAttempts, lastErr)))
}
