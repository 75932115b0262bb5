package session

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	capmock "github.com/MrWong99/voxconsole/internal/capture/mock"
	"github.com/MrWong99/voxconsole/internal/transport"
	"github.com/MrWong99/voxconsole/internal/transport/mock"
	"github.com/MrWong99/voxconsole/pkg/types"
)

func TestManager_HeartbeatTimeoutReconnects(t *testing.T) {
	t.Parallel()
	silent, healthy := mock.NewConn(), mock.NewConn()
	d := &mock.Dialer{Results: []mock.DialResult{
		{Conn: silent, Welcome: transport.Welcome{SessionID: "s-1"}},
		{Conn: healthy, Welcome: transport.Welcome{SessionID: "s-1"}},
	}}
	mic := &capmock.Microphone{}
	m := newTestManager(t, d, mic, testConfig())
	rec := record(t, m)
	keepAlive(t, healthy)

	// Capture the diagnostics counter as seen right after each attempt.
	var (
		mu   sync.Mutex
		seen []int
	)
	t.Cleanup(m.Subscribe(func(ev types.SessionEvent) {
		if ev.Kind == types.EventReconnectAttempt {
			mu.Lock()
			seen = append(seen, m.Diagnostics().Snapshot().ReconnectAttempts)
			mu.Unlock()
		}
	}))

	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	speak(mic)
	waitFor(t, "listening", func() bool { return m.State().Status == types.StatusListening })

	waitFor(t, "reconnected", func() bool {
		return len(d.Calls()) == 2 && m.State().Status == types.StatusConnected
	})
	want := []types.Status{
		types.StatusConnecting, types.StatusConnected, types.StatusListening,
		types.StatusReconnecting, types.StatusConnected,
	}
	if got := rec.statuses(); !slices.Equal(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}

	mu.Lock()
	if !slices.Equal(seen, []int{1}) {
		t.Errorf("attempts during reconnect = %v, want [1]", seen)
	}
	mu.Unlock()

	st := m.State()
	if st.Diagnostics.ReconnectAttempts != 0 {
		t.Errorf("attempts after reconnect = %d, want 0", st.Diagnostics.ReconnectAttempts)
	}
	if st.Diagnostics.Interruptions != 1 {
		t.Errorf("interruptions = %d, want 1", st.Diagnostics.Interruptions)
	}
	if got := d.Calls()[1].ResumeSessionID; got != "s-1" {
		t.Errorf("resume id = %q, want s-1", got)
	}
	if silent.Closes() == 0 {
		t.Error("timed-out connection not closed")
	}

	speak(mic)
	waitFor(t, "listening again", func() bool { return m.State().Status == types.StatusListening })
	if audioSent, _ := healthy.Snapshot(); len(audioSent) == 0 {
		t.Error("audio not routed to the new connection")
	}
}

func TestManager_TransportDropReconnects(t *testing.T) {
	t.Parallel()
	first, second := mock.NewConn(), mock.NewConn()
	d := &mock.Dialer{Results: []mock.DialResult{
		{Conn: first, Welcome: transport.Welcome{SessionID: "s-1"}},
		{Conn: second, Welcome: transport.Welcome{SessionID: "s-1"}},
	}}
	mic := &capmock.Microphone{}
	m := newTestManager(t, d, mic, testConfig())
	rec := record(t, m)
	keepAlive(t, first)
	keepAlive(t, second)

	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first.Drop(errors.New("websocket: connection reset"))

	waitFor(t, "reconnected", func() bool {
		return len(d.Calls()) == 2 && m.State().Status == types.StatusConnected
	})
	if got := rec.attempts(); !slices.Equal(got, []int{1}) {
		t.Errorf("attempts = %v, want [1]", got)
	}
	entries := m.State().Transcript
	var notes []string
	for _, e := range entries {
		notes = append(notes, e.Text)
	}
	wantNotes := []string{"Connected", "Reconnecting (attempt 1)", "Reconnected"}
	if !slices.Equal(notes, wantNotes) {
		t.Errorf("notes = %v, want %v", notes, wantNotes)
	}
}

func TestManager_ReconnectBudgetExhausted(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	d := &mock.Dialer{
		Results:    []mock.DialResult{{Conn: conn, Welcome: transport.Welcome{SessionID: "s-1"}}},
		DefaultErr: errors.New("connection refused"),
	}
	mic := &capmock.Microphone{}
	m := newTestManager(t, d, mic, testConfig())
	rec := record(t, m)
	keepAlive(t, conn)

	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn.Drop(nil)

	waitFor(t, "error", func() bool { return m.State().Status == types.StatusError })

	if got := rec.attempts(); !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("attempts = %v, want [1 2 3]", got)
	}
	if n := len(d.Calls()); n != 4 {
		t.Errorf("dial calls = %d, want 1 + 3 retries", n)
	}
	for i, h := range d.Calls()[1:] {
		if h.ResumeSessionID != "s-1" {
			t.Errorf("retry %d resume id = %q", i+1, h.ResumeSessionID)
		}
	}

	st := m.State()
	if !mic.Released() {
		t.Error("microphone not released after giving up")
	}
	if st.Diagnostics.LastErrorKind != "HeartbeatTimeout" {
		t.Errorf("last error kind = %q, want HeartbeatTimeout", st.Diagnostics.LastErrorKind)
	}
	if st.Cause == "" {
		t.Error("cause not recorded")
	}
}

func TestManager_EndDuringBackoff(t *testing.T) {
	t.Parallel()
	conn := mock.NewConn()
	d := &mock.Dialer{
		Results:    []mock.DialResult{{Conn: conn, Welcome: transport.Welcome{SessionID: "s-1"}}},
		DefaultErr: errors.New("connection refused"),
	}
	cfg := testConfig()
	cfg.Reconnect.Base = 10 * time.Second
	cfg.Reconnect.Max = 10 * time.Second
	mic := &capmock.Microphone{}
	m := newTestManager(t, d, mic, cfg)
	rec := record(t, m)
	keepAlive(t, conn)

	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn.Drop(nil)
	waitFor(t, "first retry", func() bool { return len(d.Calls()) == 2 })

	start := time.Now()
	if err := m.End(t.Context()); err != nil {
		t.Fatalf("End: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("End took %s, backoff timer not cancelled", elapsed)
	}
	if st := m.State(); st.Status != types.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", st.Status)
	}
	if !mic.Released() {
		t.Error("microphone not released")
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(d.Calls()); n != 2 {
		t.Errorf("dial calls after End = %d, want 2", n)
	}
	if got := rec.attempts(); !slices.Equal(got, []int{1}) {
		t.Errorf("attempts = %v, want [1]", got)
	}
}

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()
	b := DefaultConfig().Reconnect

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 8 * time.Second},
		{50, 8 * time.Second},
	}
	for _, tc := range tests {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "zero value uses defaults", cfg: Config{}},
		{name: "test tuning", cfg: testConfig()},
		{
			name:    "timeout not above interval",
			cfg:     Config{HeartbeatInterval: time.Second, HeartbeatTimeout: time.Second},
			wantErr: true,
		},
		{
			name:    "max below base",
			cfg:     Config{Reconnect: Backoff{Base: time.Second, Max: 100 * time.Millisecond}},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestManager_SetConfigAppliesToNextSession(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &mock.Dialer{}, &capmock.Microphone{}, testConfig())

	next := testConfig()
	next.Reconnect.MaxAttempts = 9
	if err := m.SetConfig(next); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if got := m.Config().Reconnect.MaxAttempts; got != 9 {
		t.Errorf("MaxAttempts = %d, want 9", got)
	}
	bad := Config{HeartbeatInterval: time.Minute, HeartbeatTimeout: time.Second}
	if err := m.SetConfig(bad); err == nil {
		t.Error("SetConfig accepted an invalid config")
	}
	if got := m.Config().Reconnect.MaxAttempts; got != 9 {
		t.Errorf("invalid SetConfig changed tuning: MaxAttempts = %d", got)
	}
}
