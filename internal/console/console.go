// Package console serves the consumer-facing state surface of a voice
// session over HTTP.
//
// Routes:
//
//	GET  /v1/state                 session state snapshot
//	POST /v1/session/start         start a session
//	POST /v1/session/end           end the session
//	POST /v1/diagnostics/refresh   probe latency and return diagnostics
//	GET  /v1/vad                   VAD settings
//	PUT  /v1/vad                   update VAD settings
//	GET  /v1/events                websocket stream of session events
//
// Health and metrics handlers are mounted when supplied through options.
package console

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MrWong99/voxconsole/internal/diagnostics"
	"github.com/MrWong99/voxconsole/internal/health"
	"github.com/MrWong99/voxconsole/internal/observe"
	"github.com/MrWong99/voxconsole/internal/session"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// DefaultEventBuffer is the per-subscriber queue of /v1/events. Events
// beyond it are dropped for that subscriber.
const DefaultEventBuffer = 64

// Session is the session control surface. [*session.Manager] satisfies it.
type Session interface {
	Start(ctx context.Context) error
	End(ctx context.Context) error
	State() session.State
	RefreshDiagnostics(ctx context.Context) (diagnostics.Snapshot, error)
	Subscribe(fn func(types.SessionEvent)) (unsubscribe func())
}

// VADSettings reads and updates the persisted VAD configuration.
// [*settings.VAD] satisfies it.
type VADSettings interface {
	Get() vad.Settings
	Effective() vad.Mode
	SetMode(ctx context.Context, m vad.Mode) error
	SetThreshold(ctx context.Context, t float64) (float64, error)
	SetEnabled(ctx context.Context, enabled bool) error
}

var _ Session = (*session.Manager)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEventBuffer sets the per-subscriber event queue length.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithFollowThreshold sets the distance from the transcript tail within which
// an event stream keeps following. Defaults to
// [transcript.DefaultFollowThreshold].
func WithFollowThreshold(px float64) Option {
	return func(s *Server) { s.followThreshold = px }
}

// WithOriginPatterns sets the origins accepted by /v1/events in addition to
// same-origin requests, e.g. "localhost:*".
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server is the console HTTP API.
type Server struct {
	sess Session
	vad  VADSettings

	health          *health.Handler
	metricsHandler  http.Handler
	metrics         *observe.Metrics
	eventBuffer     int
	followThreshold float64
	originPatterns  []string

	handler http.Handler
}

// New builds the API over sess and vadSettings. vadSettings may be nil, in
// which case the /v1/vad routes answer 404.
func New(sess Session, vadSettings VADSettings, opts ...Option) *Server {
	s := &Server{
		sess:        sess,
		vad:         vadSettings,
		eventBuffer: DefaultEventBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	s.Register(mux)
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("POST /v1/session/end", s.handleEnd)
	mux.HandleFunc("POST /v1/diagnostics/refresh", s.handleRefresh)
	if s.vad != nil {
		mux.HandleFunc("GET /v1/vad", s.handleGetVAD)
		mux.HandleFunc("PUT /v1/vad", s.handlePutVAD)
	}
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
}

// ServeHTTP implements [http.Handler] with tracing and request metrics.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(context.Background()).Debug("console: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	if k := types.KindOf(err); k != 0 {
		body.Kind = k.String()
	}
	writeJSON(w, status, body)
}
