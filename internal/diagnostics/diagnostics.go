// Package diagnostics derives connection health counters from the session
// event stream.
//
// A [Collector] owns no transitions. It is fed every [types.SessionEvent] the
// session manager publishes and answers with a [Snapshot]; optionally it
// mirrors the counters into OpenTelemetry instruments.
package diagnostics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MrWong99/voxconsole/internal/observe"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// Snapshot is a point-in-time view of connection health. Nil pointers mean
// the value has not been observed in the current session.
type Snapshot struct {
	Latency           *time.Duration
	LastHeartbeat     *time.Time
	ReconnectAttempts int
	Interruptions     int
	LastErrorAt       *time.Time
	LastErrorKind     string
}

type snapshotJSON struct {
	LatencyMs         *float64   `json:"latency_ms"`
	LastHeartbeat     *time.Time `json:"last_heartbeat"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	Interruptions     int        `json:"interruptions"`
	LastErrorAt       *time.Time `json:"last_error_at"`
	LastErrorKind     string     `json:"last_error_kind,omitempty"`
}

// MarshalJSON renders latency in milliseconds and nil fields as null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		LastHeartbeat:     s.LastHeartbeat,
		ReconnectAttempts: s.ReconnectAttempts,
		Interruptions:     s.Interruptions,
		LastErrorAt:       s.LastErrorAt,
		LastErrorKind:     s.LastErrorKind,
	}
	if s.Latency != nil {
		ms := float64(*s.Latency) / float64(time.Millisecond)
		out.LatencyMs = &ms
	}
	return json.Marshal(out)
}

// Option configures a [Collector].
type Option func(*Collector)

// WithMetrics mirrors observations into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// Collector accumulates a [Snapshot] from session events. Safe for
// concurrent use.
type Collector struct {
	metrics *observe.Metrics

	mu   sync.Mutex
	gen  uint64
	snap Snapshot
}

// NewCollector returns an empty collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Observe folds ev into the snapshot. Events from an older generation than
// the newest seen are ignored; a newer generation starts from zero.
func (c *Collector) Observe(ev types.SessionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case ev.Generation < c.gen:
		return
	case ev.Generation > c.gen:
		c.gen = ev.Generation
		c.snap = Snapshot{}
	}

	ctx := context.Background()
	switch ev.Kind {
	case types.EventStatus:
		c.observeStatus(ctx, ev)

	case types.EventHeartbeat:
		at := ev.At
		c.snap.LastHeartbeat = &at

	case types.EventReconnectAttempt:
		c.snap.ReconnectAttempts = ev.Attempt
		if c.metrics != nil {
			c.metrics.ReconnectAttempts.Add(ctx, 1)
		}

	case types.EventLatency:
		l := ev.Latency
		c.snap.Latency = &l
		if c.metrics != nil {
			c.metrics.ProbeLatency.Record(ctx, l.Seconds())
		}

	case types.EventError:
		c.recordError(ctx, ev)

	case types.EventTranscript:
		if c.metrics != nil {
			c.metrics.RecordTranscriptEntry(ctx, string(ev.Entry.Speaker))
		}
	}
}

func (c *Collector) observeStatus(ctx context.Context, ev types.SessionEvent) {
	switch {
	case ev.Status == types.StatusConnected && ev.Previous == types.StatusReconnecting:
		c.snap.ReconnectAttempts = 0
	case ev.Status == types.StatusReconnecting && ev.Previous.IsLive():
		c.snap.Interruptions++
		if c.metrics != nil {
			c.metrics.Interruptions.Add(ctx, 1)
		}
	}
	if ev.Status == types.StatusError && ev.Err != nil {
		c.recordError(ctx, ev)
	}

	if c.metrics == nil {
		return
	}
	c.metrics.RecordTransition(ctx, string(ev.Status))
	switch {
	case ev.Status.IsActive() && !ev.Previous.IsActive():
		c.metrics.ActiveSessions.Add(ctx, 1)
	case !ev.Status.IsActive() && ev.Previous.IsActive():
		c.metrics.ActiveSessions.Add(ctx, -1)
	}
}

func (c *Collector) recordError(ctx context.Context, ev types.SessionEvent) {
	at := ev.At
	c.snap.LastErrorAt = &at
	kind := types.KindOf(ev.Err).String()
	c.snap.LastErrorKind = kind
	if c.metrics != nil {
		c.metrics.RecordError(ctx, kind)
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// Reset clears the counters for generation gen.
func (c *Collector) Reset(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen = gen
	c.snap = Snapshot{}
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Latency != nil {
		v := *s.Latency
		out.Latency = &v
	}
	if s.LastHeartbeat != nil {
		v := *s.LastHeartbeat
		out.LastHeartbeat = &v
	}
	if s.LastErrorAt != nil {
		v := *s.LastErrorAt
		out.LastErrorAt = &v
	}
	return out
}
