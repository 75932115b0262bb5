// Package mock provides test doubles for the capture interfaces.
//
// Microphone hands out Streams whose PCM is fed by the test:
//
//	mic := &mock.Microphone{}
//	p, _ := capture.NewPipeline(mic, nil, cfg)
//	_ = p.Start(ctx)
//	mic.Last().Feed(pcm)
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/voxconsole/internal/capture"
	"github.com/MrWong99/voxconsole/pkg/audio"
)

var _ capture.Microphone = (*Microphone)(nil)
var _ capture.Stream = (*Stream)(nil)

// Microphone is a mock implementation of capture.Microphone.
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by every Open call.
	OpenErr error

	// Format overrides the format reported by opened streams. Zero means the
	// requested format.
	Format audio.Format

	// OpenCallCount is the number of times Open was called.
	OpenCallCount int

	streams []*Stream
}

// Open records the call and returns a new Stream or OpenErr.
func (m *Microphone) Open(_ context.Context, want audio.Format) (capture.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCallCount++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	f := want
	if m.Format != (audio.Format{}) {
		f = m.Format
	}
	s := NewStream(f)
	m.streams = append(m.streams, s)
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// Opens returns OpenCallCount. Thread-safe.
func (m *Microphone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenCallCount
}

// Released reports whether every opened stream has been closed.
func (m *Microphone) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.streams {
		if s.Closes() == 0 {
			return false
		}
	}
	return true
}

// Stream is a capture.Stream fed by the test through Feed.
type Stream struct {
	format audio.Format
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	ended  sync.Once

	mu         sync.Mutex
	rest       []byte
	closeCalls int
}

// NewStream returns an open stream reporting format f.
func NewStream(f audio.Format) *Stream {
	return &Stream{
		format: f,
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// Feed queues pcm for reading. It is dropped after Close.
func (s *Stream) Feed(pcm []byte) {
	select {
	case <-s.done:
	case s.chunks <- append([]byte(nil), pcm...):
	}
}

// End makes Read return io.EOF once queued data is consumed, as if the device
// disappeared.
func (s *Stream) End() {
	s.ended.Do(func() { close(s.chunks) })
}

// Read blocks until fed data is available, the stream ends or it is closed.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.rest) > 0 {
		n := copy(p, s.rest)
		s.rest = s.rest[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return 0, errors.New("mock: stream closed")
	case chunk, ok := <-s.chunks:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, chunk)
		s.mu.Lock()
		s.rest = chunk[n:]
		s.mu.Unlock()
		return n, nil
	}
}

// Format returns the stream format.
func (s *Stream) Format() audio.Format { return s.format }

// Close releases the stream. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}

// Closes returns the number of Close calls.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
