// Package session implements the connection state machine of a voice
// session.
//
// A [Manager] owns at most one session at a time. Start opens the
// microphone, performs the transport handshake and moves the session through
// idle, connecting, connected and listening. While the connection is live a
// heartbeat goroutine pings the backend and a reader goroutine feeds inbound
// events into the transcript log; a lost connection enters reconnecting and
// is recovered with bounded exponential backoff. End tears everything down
// from any state.
//
// All session state lives in one struct guarded by the manager's mutex and
// is only changed through the transition function. Every change is
// published, in order, as a [types.SessionEvent] on the manager's bus; the
// diagnostics collector is its first subscriber.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxconsole/internal/capture"
	"github.com/MrWong99/voxconsole/internal/diagnostics"
	"github.com/MrWong99/voxconsole/internal/observe"
	"github.com/MrWong99/voxconsole/internal/settings"
	"github.com/MrWong99/voxconsole/internal/transcript"
	"github.com/MrWong99/voxconsole/internal/transport"
	"github.com/MrWong99/voxconsole/internal/transport/protocol"
	"github.com/MrWong99/voxconsole/pkg/event"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
	"github.com/MrWong99/voxconsole/pkg/types"
)

var (
	// ErrSessionActive is returned by Start while a session is connecting,
	// connected, listening or reconnecting.
	ErrSessionActive = errors.New("session: a session is already active")

	// ErrAborted is returned by Start when End ran before the handshake
	// completed.
	ErrAborted = errors.New("session: start aborted")
)

// Option configures a [Manager].
type Option func(*Manager)

// WithVAD attaches the VAD engine and the process-wide VAD settings. Without
// it no detection runs and the handshake reports rms.
func WithVAD(engine *vad.Engine, cfg *settings.VAD) Option {
	return func(m *Manager) {
		m.engine = engine
		m.vadCfg = cfg
	}
}

// WithTranscript sets the transcript log. Defaults to a fresh [transcript.Log].
func WithTranscript(l *transcript.Log) Option {
	return func(m *Manager) { m.log = l }
}

// WithDiagnostics sets the diagnostics collector subscribed to the event
// stream. Defaults to a collector recording into the manager's metrics.
func WithDiagnostics(c *diagnostics.Collector) Option {
	return func(m *Manager) { m.diag = c }
}

// WithMetrics sets the instruments for handshake and VAD metrics. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithClock overrides the wall clock used for event timestamps and session
// duration.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager drives the lifecycle of voice sessions. All methods are safe for
// concurrent use.
type Manager struct {
	dialer  transport.Dialer
	mic     capture.Microphone
	engine  *vad.Engine
	vadCfg  *settings.VAD
	log     *transcript.Log
	diag    *diagnostics.Collector
	metrics *observe.Metrics
	now     func() time.Time

	cfgMu sync.RWMutex
	cfg   Config

	bus event.Bus[types.SessionEvent]

	// opMu serialises Start and End.
	opMu sync.Mutex

	// mu guards st and the current run. Every path that publishes takes
	// emitMu first and mu second, and keeps emitMu until the bus returns, so
	// events leave in transition order while handlers are free to take mu.
	emitMu sync.Mutex
	mu     sync.Mutex
	st     state
	sess   *run
}

// run is the per-session scope: its context, its pipeline and the
// goroutines serving its connection.
type run struct {
	gen      uint64
	cfg      Config
	ctx      context.Context
	cancel   context.CancelFunc
	pipeline *capture.Pipeline
	unsubVAD func()

	wg       sync.WaitGroup
	stopOnce sync.Once

	// Guarded by Manager.mu.
	link   *link
	ending bool
	// failure is the first error that failed the run. Later failures, such
	// as the dial cancelled by the teardown of a capture failure, keep it.
	failure error
}

// NewManager creates an idle manager. Invalid cfg fields fall back to
// [DefaultConfig].
func NewManager(dialer transport.Dialer, mic capture.Microphone, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		dialer: dialer,
		mic:    mic,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		st:     state{status: types.StatusIdle},
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.log == nil {
		m.log = transcript.NewLog(transcript.WithClock(m.now))
	}
	if m.diag == nil {
		m.diag = diagnostics.NewCollector(diagnostics.WithMetrics(m.metrics))
	}
	m.bus.Subscribe(m.diag.Observe)
	return m
}

// SetConfig replaces the tuning used by the next session.
func (m *Manager) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfgMu.Lock()
	m.cfg = cfg.withDefaults()
	m.cfgMu.Unlock()
	return nil
}

// Config returns the tuning for the next session.
func (m *Manager) Config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// Subscribe registers fn for every session event. Handlers run on the
// goroutine that caused the event and must not block. They may call State
// but not Start, End or RefreshDiagnostics.
func (m *Manager) Subscribe(fn func(types.SessionEvent)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// Start begins a new session. It returns [ErrSessionActive] without side
// effects while a session is active. On failure the session ends in
// [types.StatusError] with the cause recorded and the microphone released;
// the error is returned as well.
func (m *Manager) Start(ctx context.Context) error {
	m.opMu.Lock()
	r, err := m.begin(ctx)
	if err != nil {
		m.opMu.Unlock()
		return err
	}
	err = r.pipeline.Start(r.ctx)
	m.opMu.Unlock()
	if err != nil {
		if types.KindOf(err) == 0 {
			err = types.NewError(types.KindAudioCapture, "open microphone", err)
		}
		return m.abort(r, err)
	}

	slog.Info("session: connecting", "generation", r.gen)
	dctx, cancel := joinCancel(ctx, r.ctx)
	defer cancel()
	l, welcome, err := m.dial(dctx, r, "")
	if err != nil {
		return m.abort(r, err)
	}
	if !m.attach(r, l, welcome) {
		l.retire()
		return m.abort(r, ErrAborted)
	}
	return nil
}

// abort fails r with err and returns the error Start reports: the cause the
// run failed with, or [ErrAborted] when End got there first.
func (m *Manager) abort(r *run, err error) error {
	m.fail(r, err)
	m.mu.Lock()
	cause := r.failure
	m.mu.Unlock()
	if cause == nil {
		return ErrAborted
	}
	return fmt.Errorf("session: start: %w", cause)
}

// begin claims a new generation and enters connecting.
func (m *Manager) begin(ctx context.Context) (*run, error) {
	cfg := m.Config()

	m.lock()
	if m.st.status.IsActive() {
		m.unlock()
		return nil, ErrSessionActive
	}
	gen := m.st.gen + 1
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{gen: gen, cfg: cfg, ctx: rctx, cancel: cancel}

	var det capture.Detector
	if m.engine != nil {
		det = m.engine
	}
	p, err := capture.NewPipeline(m.mic, det, cfg.Capture,
		capture.WithOnFirstSend(func() { m.transition(r, types.StatusListening, nil) }),
		// Called on the capture goroutine, which fail waits for.
		capture.WithOnFailure(func(err error) { go m.fail(r, err) }),
	)
	if err != nil {
		m.unlock()
		cancel()
		return nil, fmt.Errorf("session: %w", err)
	}
	r.pipeline = p

	if m.engine != nil {
		m.engine.Reset()
		r.unsubVAD = m.engine.Events().Subscribe(func(ev vad.Event) { m.onVAD(r, ev) })
	}
	m.log.Reset()
	m.diag.Reset(gen)

	prev := m.st.status
	m.sess = r
	m.st = state{status: types.StatusConnecting, gen: gen}
	m.publishLocked(types.SessionEvent{Kind: types.EventStatus, Status: types.StatusConnecting, Previous: prev})
	return r, nil
}

// attach installs l as the live link of r and enters connected.
func (m *Manager) attach(r *run, l *link, w transport.Welcome) bool {
	var resumed bool
	ok := m.transition(r, types.StatusConnected, func(st *state) bool {
		if r.ctx.Err() != nil {
			return false
		}
		resumed = st.status == types.StatusReconnecting
		if w.SessionID != "" {
			st.sessionID = w.SessionID
		}
		if st.startedAt.IsZero() {
			st.startedAt = m.now()
		}
		r.link = l
		r.wg.Add(2)
		return true
	})
	if !ok {
		return false
	}
	go m.readLoop(r, l)
	go m.heartbeatLoop(r, l)
	r.pipeline.SetSink(l.conn)

	if resumed {
		m.note(r, "Reconnected")
	} else {
		m.note(r, "Connected")
	}
	slog.Info("session: connected",
		"session_id", w.SessionID,
		"generation", r.gen,
		"handshake", w.Latency,
		"resumed", resumed,
	)
	return true
}

// End finishes the session from any non-idle state: outstanding handshakes,
// probes and backoff timers are cancelled, the transport is closed and the
// microphone released before the status becomes disconnected. Calling End
// when idle or already disconnected does nothing.
func (m *Manager) End(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	r := m.sess
	if r == nil || r.ending || m.st.status == types.StatusDisconnected {
		m.mu.Unlock()
		return nil
	}
	r.ending = true
	m.mu.Unlock()

	m.teardown(r)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("session: end: waiting for session goroutines: %w", ctx.Err())
		slog.Warn("session: end did not wait for all goroutines", "generation", r.gen, "err", ctx.Err())
	}

	m.lock()
	prev := m.st.status
	m.st.status = types.StatusDisconnected
	m.st.cause = nil
	if m.st.endedAt.IsZero() {
		m.st.endedAt = m.now()
	}
	id := m.st.sessionID
	m.publishLocked(types.SessionEvent{Kind: types.EventStatus, Status: types.StatusDisconnected, Previous: prev})
	m.note(r, "Session ended")

	slog.Info("session: ended", "session_id", id, "generation", r.gen, "from", prev)
	return err
}

// fail releases r and records err as the terminal cause. It reports whether
// the transition into error happened.
func (m *Manager) fail(r *run, err error) bool {
	m.mu.Lock()
	if r.failure == nil && !r.ending {
		r.failure = err
	}
	cause := r.failure
	m.mu.Unlock()
	if cause == nil {
		return false
	}

	m.teardown(r)
	ok := m.transition(r, types.StatusError, func(st *state) bool {
		st.cause = cause
		st.endedAt = m.now()
		return true
	})
	if ok {
		slog.Error("session: failed", "generation", r.gen, "kind", types.KindOf(cause).String(), "err", cause)
	}
	return ok
}

// teardown cancels r, closes its link and stops its pipeline. It does not
// wait for the link goroutines; End does.
func (m *Manager) teardown(r *run) {
	r.stopOnce.Do(func() {
		r.cancel()
		if r.unsubVAD != nil {
			r.unsubVAD()
		}

		m.mu.Lock()
		l := r.link
		r.link = nil
		m.mu.Unlock()
		if l != nil {
			l.retire()
		}

		r.pipeline.SetSink(nil)
		if err := r.pipeline.Stop(); err != nil {
			slog.Warn("session: stopping capture", "generation", r.gen, "err", err)
		}
	})
}

// transition moves r into next when r is the current, non-ending run and the
// move is allowed. apply runs under the lock before the status changes and
// may veto the move by returning false.
func (m *Manager) transition(r *run, next types.Status, apply func(*state) bool) bool {
	m.lock()
	if m.sess != r || r.ending || !canTransition(m.st.status, next) {
		m.unlock()
		return false
	}
	if apply != nil && !apply(&m.st) {
		m.unlock()
		return false
	}
	prev := m.st.status
	m.st.status = next
	ev := types.SessionEvent{Kind: types.EventStatus, Status: next, Previous: prev}
	if next == types.StatusError {
		ev.Err = m.st.cause
	}
	m.publishLocked(ev)
	return true
}

// emit publishes a non-status event for r. It reports false when r is no
// longer current.
func (m *Manager) emit(r *run, ev types.SessionEvent) bool {
	m.lock()
	if m.sess != r || r.ending {
		m.unlock()
		return false
	}
	m.publishLocked(ev)
	return true
}

// note appends a system entry to the transcript of r.
func (m *Manager) note(r *run, text string) {
	m.lock()
	if m.sess != r {
		m.unlock()
		return
	}
	entry := m.log.SystemNote(text)
	m.publishLocked(types.SessionEvent{Kind: types.EventTranscript, Entry: entry})
}

// lock takes emitMu and then mu. Release with unlock, or with publishLocked
// to publish an event.
func (m *Manager) lock() {
	m.emitMu.Lock()
	m.mu.Lock()
}

func (m *Manager) unlock() {
	m.mu.Unlock()
	m.emitMu.Unlock()
}

// publishLocked stamps ev with the current session and publishes it. The
// caller holds both locks from [Manager.lock]; mu is released before the
// handlers run and emitMu after they return.
func (m *Manager) publishLocked(ev types.SessionEvent) {
	ev.Generation = m.st.gen
	ev.SessionID = m.st.sessionID
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	m.mu.Unlock()
	defer m.emitMu.Unlock()
	m.bus.Publish(ev)
}

// receive inserts an inbound transcript entry.
func (m *Manager) receive(r *run, entry types.TranscriptEntry) {
	m.lock()
	if m.sess != r || r.ending {
		m.unlock()
		return
	}
	added, err := m.log.Insert(entry)
	switch {
	case err != nil:
		slog.Warn("session: dropping transcript event", "generation", r.gen, "id", entry.ID, "err", err)
		m.publishLocked(types.SessionEvent{Kind: types.EventError, Err: err})
	case !added:
		m.unlock()
		slog.Debug("session: duplicate transcript entry", "id", entry.ID)
	default:
		m.publishLocked(types.SessionEvent{Kind: types.EventTranscript, Entry: entry})
	}
}

// onVAD forwards speech boundaries to the backend. It runs on the capture
// pipeline's detection goroutine.
func (m *Manager) onVAD(r *run, ev vad.Event) {
	var (
		sig      protocol.Type
		speaking bool
	)
	switch ev.Type {
	case vad.EventSpeechStart:
		sig, speaking = protocol.TypeSpeechStarted, true
	case vad.EventSpeechEnd, vad.EventMisfire:
		sig = protocol.TypeSpeechStopped
	default:
		return
	}
	m.metrics.RecordVADSegment(context.Background(), ev.Type.String(), string(ev.Mode))

	m.mu.Lock()
	l := r.link
	m.mu.Unlock()
	if l != nil {
		if err := l.conn.SendSignal(r.ctx, sig); err != nil {
			slog.Debug("session: speech signal not sent", "signal", sig, "err", err)
		}
	}
	m.emit(r, types.SessionEvent{Kind: types.EventSpeech, Speaking: speaking})
}

// RefreshDiagnostics probes round-trip latency while the connection is live
// and returns the updated snapshot. In any other state it returns the last
// snapshot without network I/O.
func (m *Manager) RefreshDiagnostics(ctx context.Context) (diagnostics.Snapshot, error) {
	m.mu.Lock()
	r := m.sess
	var l *link
	if r != nil && !r.ending && m.st.status.IsLive() {
		l = r.link
	}
	m.mu.Unlock()
	if l == nil {
		return m.diag.Snapshot(), nil
	}

	ctx, span := observe.StartSpan(ctx, "session.probe")
	defer span.End()
	ctx, cancel := joinCancel(ctx, r.ctx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, r.cfg.HeartbeatTimeout)
	defer cancelTimeout()

	rtt, err := l.conn.Ping(ctx)
	if err != nil {
		observe.RecordError(span, err)
		return m.diag.Snapshot(), fmt.Errorf("session: probe: %w", err)
	}
	m.emit(r, types.SessionEvent{Kind: types.EventLatency, Latency: rtt})
	return m.diag.Snapshot(), nil
}

// State returns a consistent read-only projection of the session.
func (m *Manager) State() State {
	m.mu.Lock()
	st := m.st
	s := State{
		Status:      st.status,
		Generation:  st.gen,
		SessionID:   st.sessionID,
		StartedAt:   st.startedAt,
		Duration:    st.duration(m.now()),
		Transcript:  m.log.Entries(),
		Diagnostics: m.diag.Snapshot(),
	}
	m.mu.Unlock()

	if st.status == types.StatusError && st.cause != nil {
		s.Cause = st.cause.Error()
	}
	if m.engine != nil && st.status.IsActive() {
		s.Speaking = m.engine.Speaking()
	}
	if m.vadCfg != nil {
		s.VAD = m.vadCfg.Get()
	}
	s.EffectiveVAD = m.effectiveVAD()
	return s
}

// Transcript returns the session transcript log.
func (m *Manager) Transcript() *transcript.Log { return m.log }

// Diagnostics returns the collector fed by the event stream.
func (m *Manager) Diagnostics() *diagnostics.Collector { return m.diag }

func (m *Manager) effectiveVAD() vad.Mode {
	if m.vadCfg == nil || m.engine == nil {
		return vad.ModeRMS
	}
	return m.vadCfg.Effective()
}

// joinCancel returns a child of ctx that is also cancelled with other.
func joinCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
