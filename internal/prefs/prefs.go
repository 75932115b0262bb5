// Package prefs persists user preferences as string key/value pairs.
//
// A [Store] is injected into the components that own a preference rather
// than accessed globally, so tests can substitute [Memory]. Two durable
// backends exist: [File] keeps a small YAML document next to the config file,
// and [SQLite] keeps a preferences table in an embedded database.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Preference keys.
const (
	KeyVADMode      = "vad.mode"
	KeyVADThreshold = "vad.threshold"
	KeyVADEnabled   = "vad.enabled"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("prefs: store closed")

// Store loads and saves preferences. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the stored value for key. ok is false when the key has
	// never been saved.
	Load(ctx context.Context, key string) (value string, ok bool, err error)

	// Save durably stores value under key, replacing any earlier value.
	Save(ctx context.Context, key, value string) error

	// Close releases the backend.
	Close() error
}

// Backend names accepted by [Open].
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open returns the store for backend at path.
func Open(ctx context.Context, backend, path string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return OpenFile(path)
	case BackendSQLite:
		return OpenSQLite(ctx, path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("prefs: unknown backend %q", backend)
	}
}

// Memory is an in-process [Store].
type Memory struct {
	mu     sync.Mutex
	values map[string]string
	closed bool

	// SaveCalls counts successful Save calls.
	SaveCalls int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Load implements [Store].
func (m *Memory) Load(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

// Save implements [Store].
func (m *Memory) Save(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = value
	m.SaveCalls++
	return nil
}

// Close implements [Store].
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Saves returns the number of successful saves. Thread-safe.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SaveCalls
}

var _ Store = (*Memory)(nil)
