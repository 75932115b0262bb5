package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxconsole/pkg/audio"
	"github.com/MrWong99/voxconsole/pkg/audio/codec"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
	"github.com/MrWong99/voxconsole/pkg/types"
)

// TransmitPolicy selects which frames reach the transport.
type TransmitPolicy string

const (
	// TransmitAlways sends every captured frame.
	TransmitAlways TransmitPolicy = "always"

	// TransmitSpeech sends only frames captured while VAD reports speech.
	TransmitSpeech TransmitPolicy = "speech"
)

// IsValid reports whether p is a known policy.
func (p TransmitPolicy) IsValid() bool {
	return p == TransmitAlways || p == TransmitSpeech
}

// DefaultVADQueue is the number of frames buffered for the VAD goroutine
// before frames are dropped.
const DefaultVADQueue = 8

// Detector consumes frames for voice activity detection. [*vad.Engine]
// satisfies it.
type Detector interface {
	Process(frame audio.AudioFrame) ([]vad.Event, error)
	Speaking() bool
}

// Sink accepts encoded audio packets. A transport connection satisfies it.
type Sink interface {
	SendAudio(ctx context.Context, packet []byte) error
}

// Config parameterises a [Pipeline].
type Config struct {
	// Format is the frame format delivered to VAD and the encoder. Streams
	// in another rate or channel layout are converted.
	Format audio.Format

	// Encoding selects the outbound codec.
	Encoding codec.Name

	// Transmit selects the transmit policy. Empty means TransmitAlways.
	Transmit TransmitPolicy

	// VADQueue bounds the frame queue towards the detector. Zero means
	// DefaultVADQueue.
	VADQueue int
}

// Stats are pipeline counters since Start.
type Stats struct {
	Frames     uint64
	Sent       uint64
	VADDropped uint64
	SinkErrors uint64
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithOnFirstSend registers fn to run after the first packet accepted by each
// sink installed through SetSink.
func WithOnFirstSend(fn func()) Option {
	return func(p *Pipeline) { p.onFirstSend = fn }
}

// WithOnFailure registers fn to run once if capture fails while the pipeline
// is running. It is not called for Stop.
func WithOnFailure(fn func(error)) Option {
	return func(p *Pipeline) { p.onFailure = fn }
}

// Pipeline owns one microphone stream for the duration of a session.
//
// Capture and detection run on separate goroutines: a slow detector drops
// frames from its own queue and never delays transmission.
type Pipeline struct {
	mic Microphone
	det Detector
	cfg Config
	enc codec.Encoder

	onFirstSend func()
	onFailure   func(error)

	sinkMu    sync.Mutex
	sink      Sink
	sinkGen   uint64
	firstSent bool

	frames     atomic.Uint64
	sent       atomic.Uint64
	vadDropped atomic.Uint64
	sinkErrors atomic.Uint64

	mu       sync.Mutex
	started  bool
	stream   Stream
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
	stopErr  error
}

// NewPipeline validates cfg and builds the encoder. det may be nil, in which
// case frames are only transmitted.
func NewPipeline(mic Microphone, det Detector, cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.Transmit == "" {
		cfg.Transmit = TransmitAlways
	}
	if !cfg.Transmit.IsValid() {
		return nil, fmt.Errorf("capture: unknown transmit policy %q", cfg.Transmit)
	}
	if cfg.Transmit == TransmitSpeech && det == nil {
		return nil, errors.New("capture: speech transmit policy requires a detector")
	}
	if cfg.VADQueue <= 0 {
		cfg.VADQueue = DefaultVADQueue
	}
	enc, err := codec.New(cfg.Encoding, cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	p := &Pipeline{mic: mic, det: det, cfg: cfg, enc: enc}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Encoder returns the outbound codec.
func (p *Pipeline) Encoder() codec.Encoder { return p.enc }

// SetSink installs the destination for encoded audio. nil pauses
// transmission, e.g. while reconnecting; captured frames still reach VAD.
func (p *Pipeline) SetSink(s Sink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sink = s
	p.sinkGen++
	p.firstSent = false
}

// Start opens the microphone and launches the capture and detection
// goroutines. Microphone failures are returned as-is.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("capture: pipeline already started")
	}

	stream, err := p.mic.Open(ctx, p.cfg.Format)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p.stream = stream
	p.cancel = cancel
	p.group = g
	p.started = true

	frames := make(chan audio.AudioFrame, p.cfg.VADQueue)
	src := audio.NewConvertReader(stream, stream.Format(), p.cfg.Format)
	framer := audio.NewFramer(src, p.cfg.Format)

	g.Go(func() error {
		defer close(frames)
		return p.captureLoop(gctx, framer, frames)
	})
	g.Go(func() error {
		p.detectLoop(frames)
		return nil
	})

	slog.Debug("capture: pipeline started",
		"stream_format", stream.Format().String(),
		"frame_format", p.cfg.Format.String(),
		"encoding", p.enc.Name(),
		"transmit", p.cfg.Transmit,
	)
	return nil
}

// Stop cancels capture, closes the stream and waits for both goroutines.
// Safe to call more than once and before Start.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if !started {
			return
		}
		p.cancel()
		closeErr := p.stream.Close()
		_ = p.group.Wait()
		if closeErr != nil {
			p.stopErr = closeErr
		}
		slog.Debug("capture: pipeline stopped", "frames", p.frames.Load(), "vad_dropped", p.vadDropped.Load())
	})
	return p.stopErr
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:     p.frames.Load(),
		Sent:       p.sent.Load(),
		VADDropped: p.vadDropped.Load(),
		SinkErrors: p.sinkErrors.Load(),
	}
}

func (p *Pipeline) captureLoop(ctx context.Context, framer *audio.Framer, frames chan<- audio.AudioFrame) error {
	for {
		frame, err := framer.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = errors.New("microphone stream ended")
			}
			err = types.NewError(types.KindAudioCapture, "read microphone", err)
			if p.onFailure != nil {
				p.onFailure(err)
			}
			return err
		}
		p.frames.Add(1)

		if p.det != nil {
			select {
			case frames <- frame:
			default:
				p.vadDropped.Add(1)
			}
		}

		if p.cfg.Transmit == TransmitSpeech && !p.det.Speaking() {
			continue
		}
		p.transmit(ctx, frame)
	}
}

func (p *Pipeline) transmit(ctx context.Context, frame audio.AudioFrame) {
	p.sinkMu.Lock()
	sink, gen := p.sink, p.sinkGen
	p.sinkMu.Unlock()
	if sink == nil {
		return
	}

	packets, err := p.enc.Encode(frame)
	if err != nil {
		p.sinkErrors.Add(1)
		slog.Warn("capture: encode failed", "seq", frame.Seq, "err", err)
		return
	}
	for _, pkt := range packets {
		if err := sink.SendAudio(ctx, pkt); err != nil {
			// The transport reports a lost connection on its own; the
			// frame is dropped.
			p.sinkErrors.Add(1)
			slog.Debug("capture: send failed", "seq", frame.Seq, "err", err)
			return
		}
		p.sent.Add(1)
		p.markSent(gen)
	}
}

func (p *Pipeline) markSent(gen uint64) {
	p.sinkMu.Lock()
	first := !p.firstSent && p.sinkGen == gen
	if first {
		p.firstSent = true
	}
	p.sinkMu.Unlock()
	if first && p.onFirstSend != nil {
		p.onFirstSend()
	}
}

func (p *Pipeline) detectLoop(frames <-chan audio.AudioFrame) {
	for frame := range frames {
		if _, err := p.det.Process(frame); err != nil {
			slog.Debug("capture: vad frame degraded", "seq", frame.Seq, "err", err)
		}
	}
}
