package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxconsole/internal/config"
)

const watchedYAML = `
server:
  log_level: info
transport:
  url: ws://localhost:9000/realtime
heartbeat:
  interval: 5s
  timeout: 15s
`

const pollInterval = 20 * time.Millisecond

// reloadRecorder collects watcher callbacks.
type reloadRecorder struct {
	mu     sync.Mutex
	calls  []config.ConfigDiff
	notify chan struct{}
}

func newRecorder() *reloadRecorder {
	return &reloadRecorder{notify: make(chan struct{}, 8)}
}

func (r *reloadRecorder) onChange(_, _ *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *reloadRecorder) wait(t *testing.T) config.ConfigDiff {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the change")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// startWatcher writes content to a fresh file and watches it.
func startWatcher(t *testing.T, content string, rec *reloadRecorder) (string, *config.Watcher) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxconsole.yaml")
	rewrite(t, path, content)

	var fn config.ChangeFunc
	if rec != nil {
		fn = rec.onChange
	}
	w, err := config.NewWatcher(path, fn, config.WithInterval(pollInterval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w
}

// rewrite replaces the file and moves its mtime forward so the next poll
// sees it even on coarse-grained filesystems.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	bump(t, path)
}

var bumpMu sync.Mutex

func bump(t *testing.T, path string) {
	t.Helper()
	bumpMu.Lock()
	defer bumpMu.Unlock()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %q: %v", path, err)
	}
	next := fi.ModTime().Add(time.Second)
	if err := os.Chtimes(path, next, next); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w := startWatcher(t, watchedYAML, nil)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Heartbeat.Timeout != 15*time.Second {
		t.Errorf("heartbeat.timeout: got %s, want 15s", cfg.Heartbeat.Timeout)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatcher_ReportsHotReloadableChange(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	path, w := startWatcher(t, watchedYAML, rec)

	rewrite(t, path, `
server:
  log_level: debug
transport:
  url: ws://localhost:9000/realtime
heartbeat:
  interval: 2s
  timeout: 8s
`)
	d := rec.wait(t)

	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q, want debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.SessionChanged {
		t.Error("heartbeat change not reported as session change")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
	if got := w.Current().Heartbeat.Interval; got != 2*time.Second {
		t.Errorf("Current() heartbeat.interval = %s, want 2s", got)
	}
}

func TestWatcher_ReportsRestartRequired(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	path, _ := startWatcher(t, watchedYAML, rec)

	rewrite(t, path, `
server:
  log_level: info
transport:
  url: wss://speech.example.com/realtime
heartbeat:
  interval: 5s
  timeout: 15s
`)
	d := rec.wait(t)
	if !slices.Equal(d.RestartRequired, []string{"transport"}) {
		t.Errorf("RestartRequired = %v, want [transport]", d.RestartRequired)
	}
	if d.LogLevelChanged || d.SessionChanged {
		t.Errorf("unexpected hot-reload changes: %+v", d)
	}
}

func TestWatcher_IgnoresInvalidAndUnchangedFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, path string)
	}{
		{
			name:   "invalid config",
			mutate: func(t *testing.T, path string) { rewrite(t, path, "server:\n  log_level: bananas\n") },
		},
		{
			name:   "unknown field",
			mutate: func(t *testing.T, path string) { rewrite(t, path, watchedYAML+"campaigns: []\n") },
		},
		{
			name:   "touch only",
			mutate: func(t *testing.T, path string) { bump(t, path) },
		},
		{
			name:   "same content rewritten",
			mutate: func(t *testing.T, path string) { rewrite(t, path, watchedYAML) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := newRecorder()
			path, w := startWatcher(t, watchedYAML, rec)

			tc.mutate(t, path)
			time.Sleep(10 * pollInterval)

			if n := rec.count(); n != 0 {
				t.Errorf("callback fired %d times, want 0", n)
			}
			if got := w.Current().Server.LogLevel; got != config.LogInfo {
				t.Errorf("Current() log_level = %q, want the previous info", got)
			}
		})
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w := startWatcher(t, watchedYAML, nil)
	w.Stop()
	w.Stop()
}
