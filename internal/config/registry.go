package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxconsole/internal/capture"
)

// ErrBackendNotRegistered is returned by [Registry.CreateMicrophone] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps microphone backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	microphone map[string]func(MicrophoneEntry) (capture.Microphone, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		microphone: make(map[string]func(MicrophoneEntry) (capture.Microphone, error)),
	}
}

// RegisterMicrophone registers a microphone factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterMicrophone(name string, factory func(MicrophoneEntry) (capture.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphone[name] = factory
}

// CreateMicrophone instantiates the microphone registered under entry.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateMicrophone(entry MicrophoneEntry) (capture.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.microphone[entry.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: microphone/%q", ErrBackendNotRegistered, entry.Backend)
	}
	return factory(entry)
}

// DefaultRegistry returns a registry with the built-in backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterMicrophone("ffmpeg", func(e MicrophoneEntry) (capture.Microphone, error) {
		return capture.NewFFmpeg(
			capture.WithCommand(e.Command),
			capture.WithInput(e.InputFormat, e.Device),
		), nil
	})
	return r
}
