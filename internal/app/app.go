// Package app wires the voxconsole subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the preference store,
// loads the VAD models, builds the session manager and the console API, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMicrophone, WithDialer, ...). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/voxconsole/internal/capture"
	"github.com/MrWong99/voxconsole/internal/config"
	"github.com/MrWong99/voxconsole/internal/console"
	"github.com/MrWong99/voxconsole/internal/health"
	"github.com/MrWong99/voxconsole/internal/observe"
	"github.com/MrWong99/voxconsole/internal/prefs"
	"github.com/MrWong99/voxconsole/internal/resilience"
	"github.com/MrWong99/voxconsole/internal/session"
	"github.com/MrWong99/voxconsole/internal/settings"
	"github.com/MrWong99/voxconsole/internal/transport"
	"github.com/MrWong99/voxconsole/internal/transport/ws"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
	"github.com/MrWong99/voxconsole/pkg/provider/vad/rms"
	"github.com/MrWong99/voxconsole/pkg/provider/vad/silero"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	store    prefs.Store
	registry *config.Registry
	mic      capture.Microphone
	dialer   transport.Dialer
	model    vad.Classifier
	noModel  bool
	vadCfg   *settings.VAD
	engine   *vad.Engine
	manager  *session.Manager
	console  *console.Server
	metrics  *observe.Metrics
	promHTTP http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a preference store instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s prefs.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMicrophone injects a microphone instead of creating one from the
// registry.
func WithMicrophone(m capture.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithDialer injects a transport dialer instead of the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithModel injects the neural classifier instead of loading the silero
// model from config.
func WithModel(c vad.Classifier) Option {
	return func(a *App) { a.model = c }
}

// WithoutModel skips loading the neural classifier. Every mode runs as rms.
func WithoutModel() Option {
	return func(a *App) { a.noModel = true }
}

// WithRegistry sets the microphone backend registry. Defaults to
// [config.DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics on the console API.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promHTTP = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. A failure to load
// the VAD model is not fatal: the engine runs on the amplitude detector and
// the settings report silero as unavailable.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}

	// ── 1. Preferences ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init preferences: %w", err)
	}

	// ── 2. VAD ───────────────────────────────────────────────────────────
	if err := a.initVAD(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init vad: %w", err)
	}

	// ── 3. Transport + microphone ────────────────────────────────────────
	if a.dialer == nil {
		a.dialer = newDialer(cfg.Transport)
	}
	if a.mic == nil {
		mic, err := a.registry.CreateMicrophone(cfg.Audio.Microphone)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init microphone: %w", err)
		}
		a.mic = mic
	}

	// ── 4. Session manager ───────────────────────────────────────────────
	a.manager = session.NewManager(a.dialer, a.mic, cfg.Session(),
		session.WithVAD(a.engine, a.vadCfg),
		session.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, func() error {
		return a.manager.End(context.Background())
	})

	// ── 5. Console API ───────────────────────────────────────────────────
	checks := []health.Checker{
		health.StatusCheck("session", func() types.Status { return a.manager.State().Status }),
	}
	if p, ok := a.store.(health.Pinger); ok {
		checks = append(checks, health.PingCheck("preferences", p))
	}
	copts := []console.Option{
		console.WithHealth(health.New(checks...)),
		console.WithMetrics(a.metrics),
	}
	if a.promHTTP != nil {
		copts = append(copts, console.WithMetricsHandler(a.promHTTP))
	}
	a.console = console.New(a.manager, a.vadCfg, copts...)

	slog.Info("app initialised",
		"preferences", cfg.Preferences.Backend,
		"microphone", cfg.Audio.Microphone.Backend,
		"silero_available", a.vadCfg.Get().SileroAvailable,
		"effective_vad_mode", a.vadCfg.Effective(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured preference store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	store, err := prefs.Open(ctx, a.cfg.Preferences.Backend, a.cfg.Preferences.Path)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initVAD loads the model, restores the persisted settings and builds the
// engine.
func (a *App) initVAD(ctx context.Context) error {
	if a.model == nil && !a.noModel {
		model, err := silero.Load(a.cfg.Silero())
		if err != nil {
			slog.Warn("vad model unavailable, falling back to rms", "err", err)
		} else {
			a.model = model
		}
	}

	def := a.cfg.VADDefaults()
	def.SileroAvailable = a.model != nil

	vs, err := settings.Load(ctx, a.store, def)
	if err != nil {
		return err
	}
	a.vadCfg = vs

	a.engine = vad.NewEngine(vs, rms.New(), a.model, a.cfg.Engine())
	a.closers = append(a.closers, a.engine.Close)
	return nil
}

// newDialer returns the websocket dialer for tc.URL, or a failover dialer
// over tc.URL and tc.FallbackURLs when fallbacks are configured.
func newDialer(tc config.TransportConfig) transport.Dialer {
	dial := func(url string) transport.Dialer {
		return ws.NewDialer(url,
			ws.WithToken(tc.Token),
			ws.WithHandshakeTimeout(tc.HandshakeTimeout),
			ws.WithWriteTimeout(tc.WriteTimeout),
		)
	}
	if len(tc.FallbackURLs) == 0 {
		return dial(tc.URL)
	}

	endpoints := []resilience.Endpoint{{Name: tc.URL, Dialer: dial(tc.URL)}}
	for _, u := range tc.FallbackURLs {
		endpoints = append(endpoints, resilience.Endpoint{Name: u, Dialer: dial(u)})
	}
	return resilience.NewFailoverDialer(resilience.BreakerConfig{
		MaxFailures:  tc.Breaker.MaxFailures,
		ResetTimeout: tc.Breaker.ResetTimeout,
	}, endpoints...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the console API.
func (a *App) Handler() http.Handler { return a.console }

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Settings returns the persisted VAD settings.
func (a *App) Settings() *settings.VAD { return a.vadCfg }

// ApplyConfig applies the hot-reloadable parts of a changed config. Session
// tuning takes effect on the next Start; sections listed in
// d.RestartRequired are ignored until restart.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) error {
	if !d.SessionChanged {
		return nil
	}
	if err := a.manager.SetConfig(cfg.Session()); err != nil {
		return fmt.Errorf("app: apply session config: %w", err)
	}
	slog.Info("session tuning updated; applies to the next session",
		"heartbeat_interval", cfg.Heartbeat.Interval,
		"heartbeat_timeout", cfg.Heartbeat.Timeout,
		"reconnect_max_attempts", cfg.Reconnect.MaxAttempts,
	)
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends the session and tears down all subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what a failed New already opened.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
