package app

import (
	"testing"

	"github.com/MrWong99/voxconsole/internal/config"
	"github.com/MrWong99/voxconsole/internal/resilience"
	"github.com/MrWong99/voxconsole/internal/transport/ws"
)

func TestNewDialer(t *testing.T) {
	t.Parallel()

	single := newDialer(config.TransportConfig{URL: "wss://a.example.com/v1/session"})
	if _, ok := single.(*ws.Dialer); !ok {
		t.Errorf("single endpoint: got %T, want *ws.Dialer", single)
	}

	multi := newDialer(config.TransportConfig{
		URL:          "wss://a.example.com/v1/session",
		FallbackURLs: []string{"wss://b.example.com/v1/session", "wss://c.example.com/v1/session"},
	})
	fd, ok := multi.(*resilience.FailoverDialer)
	if !ok {
		t.Fatalf("with fallbacks: got %T, want *resilience.FailoverDialer", multi)
	}
	if n := len(fd.States()); n != 3 {
		t.Errorf("endpoints = %d, want 3", n)
	}
}
