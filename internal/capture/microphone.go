// Package capture reads microphone PCM, cuts it into fixed frames and fans
// every frame out to voice activity detection and to the outbound transport.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/voxconsole/pkg/audio"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// Stream is an open microphone delivering s16le PCM in Format.
type Stream interface {
	io.ReadCloser
	Format() audio.Format
}

// Microphone opens capture streams. Implementations must release the device
// when the returned Stream is closed.
type Microphone interface {
	Open(ctx context.Context, want audio.Format) (Stream, error)
}

var _ Microphone = (*FFmpeg)(nil)

const (
	// startupGrace is how long Open waits for ffmpeg to fail on a missing
	// device or denied permission before assuming capture is running.
	startupGrace = 250 * time.Millisecond

	// stopGrace is how long Close waits after SIGINT before killing ffmpeg.
	stopGrace = 1200 * time.Millisecond
)

// FFmpegOption configures an [FFmpeg] microphone.
type FFmpegOption func(*FFmpeg)

// WithCommand sets the ffmpeg executable. Defaults to "ffmpeg" on PATH.
func WithCommand(cmd string) FFmpegOption {
	return func(m *FFmpeg) {
		if cmd != "" {
			m.command = cmd
		}
	}
}

// WithInput sets the ffmpeg input format and device, e.g. "pulse" and
// "default", or "alsa" and "hw:0".
func WithInput(format, device string) FFmpegOption {
	return func(m *FFmpeg) {
		if format != "" {
			m.inputFormat = format
		}
		if device != "" {
			m.device = device
		}
	}
}

// FFmpeg captures the system microphone through an ffmpeg subprocess writing
// raw PCM to stdout.
type FFmpeg struct {
	command     string
	inputFormat string
	device      string
}

// NewFFmpeg returns an ffmpeg-backed microphone reading "default" through
// PulseAudio unless configured otherwise.
func NewFFmpeg(opts ...FFmpegOption) *FFmpeg {
	m := &FFmpeg{command: "ffmpeg", inputFormat: "pulse", device: "default"}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open starts ffmpeg and returns its stdout as a Stream. Failures are
// [types.KindAudioCapture] errors.
func (m *FFmpeg) Open(ctx context.Context, want audio.Format) (Stream, error) {
	if err := want.Validate(); err != nil {
		return nil, types.NewError(types.KindAudioCapture, "open microphone", err)
	}

	cmd := exec.CommandContext(ctx, m.command,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", m.inputFormat,
		"-i", m.device,
		"-ac", strconv.Itoa(want.Channels),
		"-ar", strconv.Itoa(want.SampleRate),
		"-f", "s16le",
		"-",
	)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	// Children that inherited stderr must not keep Wait blocked.
	cmd.WaitDelay = stopGrace

	// exec copies ffmpeg's stdout into pw and Wait returns only after that
	// copy finished, so every sample is readable before EOF.
	stdout, pw := io.Pipe()
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		return nil, types.NewError(types.KindAudioCapture, "open microphone", fmt.Errorf("start %s: %w", m.command, err))
	}

	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.CloseWithError(err)
		exited <- err
		close(exited)
	}()

	select {
	case err := <-exited:
		cause := errors.New("ffmpeg exited before capture started")
		if err != nil {
			cause = fmt.Errorf("%w: %w", cause, err)
		}
		if msg := stderr.trimmed(); msg != "" {
			cause = fmt.Errorf("%w: %s", cause, msg)
		}
		return nil, types.NewError(types.KindAudioCapture, "open microphone", cause)
	case <-time.After(startupGrace):
	case <-ctx.Done():
		_ = stdout.Close()
		_ = cmd.Process.Kill()
		<-exited
		return nil, types.NewError(types.KindAudioCapture, "open microphone", ctx.Err())
	}

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		exited:  exited,
		format:  want,
	}, nil
}

type ffmpegStream struct {
	stdout  *io.PipeReader
	stderr  *syncBuffer
	process *os.Process
	exited  <-chan error
	format  audio.Format

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) { return s.stdout.Read(p) }

func (s *ffmpegStream) Format() audio.Format { return s.format }

// Close releases the pipe and interrupts ffmpeg, escalating to kill after
// stopGrace. Safe to call more than once.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		// A closed reader fails the pending copy, which lets Wait return.
		_ = s.stdout.Close()
		_ = s.process.Signal(os.Interrupt)

		select {
		case err, ok := <-s.exited:
			if ok {
				s.closeErr = ignoreExitStatus(err)
			}
		case <-time.After(stopGrace):
			_ = s.process.Kill()
			if err, ok := <-s.exited; ok {
				s.closeErr = ignoreExitStatus(err)
			}
		}

		if s.closeErr != nil {
			if msg := s.stderr.trimmed(); msg != "" {
				s.closeErr = fmt.Errorf("%w: %s", s.closeErr, msg)
			}
			s.closeErr = fmt.Errorf("capture: close ffmpeg: %w", s.closeErr)
		}
	})
	return s.closeErr
}

// ignoreExitStatus drops the non-zero exit ffmpeg reports after an interrupt.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}

// syncBuffer collects subprocess stderr while it is being written.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
