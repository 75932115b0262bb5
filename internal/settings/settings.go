// Package settings owns the process-wide VAD configuration.
//
// [VAD] is the only writer of the VAD preference. Every setter validates its
// input, applies it, persists it through the injected [prefs.Store] and bumps
// a version counter that the VAD engine polls at frame boundaries. A failed
// save reverts the in-memory value so the running process never diverges
// from what was persisted.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/MrWong99/voxconsole/internal/prefs"
	"github.com/MrWong99/voxconsole/pkg/event"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
)

// VAD holds the current [vad.Settings]. It is safe for concurrent use.
type VAD struct {
	store prefs.Store

	mu      sync.RWMutex
	s       vad.Settings
	version uint64

	changes event.Bus[vad.Settings]
}

// Load reads the persisted preferences from store. def supplies the values
// used for keys that were never saved and the read-only SileroAvailable flag.
// Invalid persisted values are logged and replaced by the defaults.
func Load(ctx context.Context, store prefs.Store, def vad.Settings) (*VAD, error) {
	s := vad.Settings{
		Mode:            def.Mode,
		Enabled:         def.Enabled,
		Threshold:       vad.ClampThreshold(def.Threshold),
		SileroAvailable: def.SileroAvailable,
	}
	if !s.Mode.IsValid() {
		s.Mode = vad.DefaultMode
	}

	raw, ok, err := store.Load(ctx, prefs.KeyVADMode)
	if err != nil {
		return nil, fmt.Errorf("settings: load %s: %w", prefs.KeyVADMode, err)
	}
	if ok {
		if m, err := vad.ParseMode(raw); err == nil {
			s.Mode = m
		} else {
			slog.Warn("settings: ignoring invalid persisted vad mode", "value", raw, "default", s.Mode)
		}
	}

	raw, ok, err = store.Load(ctx, prefs.KeyVADThreshold)
	if err != nil {
		return nil, fmt.Errorf("settings: load %s: %w", prefs.KeyVADThreshold, err)
	}
	if ok {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			s.Threshold = vad.ClampThreshold(f)
		} else {
			slog.Warn("settings: ignoring invalid persisted vad threshold", "value", raw, "default", s.Threshold)
		}
	}

	raw, ok, err = store.Load(ctx, prefs.KeyVADEnabled)
	if err != nil {
		return nil, fmt.Errorf("settings: load %s: %w", prefs.KeyVADEnabled, err)
	}
	if ok {
		if b, err := strconv.ParseBool(raw); err == nil {
			s.Enabled = b
		} else {
			slog.Warn("settings: ignoring invalid persisted vad enabled flag", "value", raw, "default", s.Enabled)
		}
	}

	if s.Mode.UsesModel() && !s.SileroAvailable {
		slog.Info("settings: silero unavailable, vad runs as rms", "preferred_mode", s.Mode)
	}
	return &VAD{store: store, s: s, version: 1}, nil
}

// Get returns the current settings.
func (v *VAD) Get() vad.Settings {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.s
}

// Snapshot implements [vad.SettingsSource].
func (v *VAD) Snapshot() (vad.Settings, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.s, v.version
}

// Effective returns the strategy the engine will run.
func (v *VAD) Effective() vad.Mode {
	return v.Get().Effective()
}

// Subscribe registers fn to receive the settings after every change.
func (v *VAD) Subscribe(fn func(vad.Settings)) (unsubscribe func()) {
	return v.changes.Subscribe(fn)
}

// SetMode changes the preferred mode. Selecting a model mode while the model
// is unavailable is allowed; the effective mode stays rms.
func (v *VAD) SetMode(ctx context.Context, m vad.Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("settings: invalid vad mode %q", m)
	}
	return v.update(ctx, prefs.KeyVADMode, string(m), func(s *vad.Settings) { s.Mode = m })
}

// SetThreshold clamps t to [0, 1], stores it and returns the stored value.
func (v *VAD) SetThreshold(ctx context.Context, t float64) (float64, error) {
	t = vad.ClampThreshold(t)
	err := v.update(ctx, prefs.KeyVADThreshold, strconv.FormatFloat(t, 'f', -1, 64), func(s *vad.Settings) { s.Threshold = t })
	return t, err
}

// SetEnabled turns detection on or off.
func (v *VAD) SetEnabled(ctx context.Context, enabled bool) error {
	return v.update(ctx, prefs.KeyVADEnabled, strconv.FormatBool(enabled), func(s *vad.Settings) { s.Enabled = enabled })
}

func (v *VAD) update(ctx context.Context, key, raw string, apply func(*vad.Settings)) error {
	v.mu.Lock()
	prev := v.s
	apply(&v.s)
	if err := v.store.Save(ctx, key, raw); err != nil {
		v.s = prev
		v.mu.Unlock()
		return fmt.Errorf("settings: persist %s: %w", key, err)
	}
	v.version++
	cur := v.s
	v.mu.Unlock()

	slog.Debug("settings: vad updated", "key", key, "value", raw, "effective_mode", cur.Effective())
	v.changes.Publish(cur)
	return nil
}

var _ vad.SettingsSource = (*VAD)(nil)
