// Package ws implements the realtime transport over a websocket using
// github.com/coder/websocket.
//
// Control messages are JSON text frames defined in package protocol; encoded
// audio is sent as binary frames. The handshake writes session.start and
// waits for session.created (or an error) before [Dialer.Dial] returns.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxconsole/internal/transport"
	"github.com/MrWong99/voxconsole/internal/transport/protocol"
	"github.com/MrWong99/voxconsole/pkg/types"
)

var _ transport.Dialer = (*Dialer)(nil)
var _ transport.Conn = (*conn)(nil)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultMessageBuffer    = 64

	// closeTimeout bounds the best-effort session.end on Close.
	closeTimeout = time.Second

	// pingRetention is how long an unanswered ping is remembered.
	pingRetention = 30 * time.Second
)

// ── Options ──────────────────────────────────────────────────────────────────

// Option configures a [Dialer].
type Option func(*Dialer)

// WithToken sets the bearer token sent in the Authorization header.
func WithToken(token string) Option {
	return func(d *Dialer) { d.token = token }
}

// WithHandshakeTimeout bounds dial plus session.created. Defaults to 10s.
func WithHandshakeTimeout(t time.Duration) Option {
	return func(d *Dialer) {
		if t > 0 {
			d.handshakeTimeout = t
		}
	}
}

// WithWriteTimeout bounds each outbound frame. Defaults to 5s.
func WithWriteTimeout(t time.Duration) Option {
	return func(d *Dialer) {
		if t > 0 {
			d.writeTimeout = t
		}
	}
}

// WithMessageBuffer sets the capacity of the inbound message channel.
func WithMessageBuffer(n int) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// ── Dialer ───────────────────────────────────────────────────────────────────

// Dialer connects to a realtime backend at a ws:// or wss:// URL.
type Dialer struct {
	url              string
	token            string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	buffer           int
}

// NewDialer returns a Dialer for url.
func NewDialer(url string, opts ...Option) *Dialer {
	d := &Dialer{
		url:              url,
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		buffer:           defaultMessageBuffer,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, hello transport.Hello) (transport.Conn, transport.Welcome, error) {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
	defer cancel()

	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}
	c, _, err := websocket.Dial(hctx, d.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, transport.Welcome{}, types.NewError(types.KindHandshake, "dial", err)
	}
	// Transcript entries and server errors can be large.
	c.SetReadLimit(1 << 20)

	data, err := protocol.Encode(protocol.SessionStart{
		Type:            protocol.TypeSessionStart,
		ProtocolVersion: protocol.Version,
		Client:          hello.Client,
		Audio:           hello.Audio,
		VAD:             protocol.VADInfo{Mode: hello.VADMode},
		ResumeSessionID: hello.ResumeSessionID,
	})
	if err != nil {
		c.Close(websocket.StatusInternalError, "encode failed")
		return nil, transport.Welcome{}, types.NewError(types.KindHandshake, "encode session.start", err)
	}
	if err := c.Write(hctx, websocket.MessageText, data); err != nil {
		c.Close(websocket.StatusInternalError, "handshake write failed")
		return nil, transport.Welcome{}, types.NewError(types.KindHandshake, "write session.start", err)
	}

	sessionID, err := awaitCreated(hctx, c)
	if err != nil {
		c.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, transport.Welcome{}, err
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	cn := &conn{
		c:            c,
		writeTimeout: d.writeTimeout,
		msgs:         make(chan transport.Message, d.buffer),
		pending:      make(map[string]pendingPing),
		ctx:          connCtx,
		cancel:       connCancel,
	}
	go cn.readLoop()

	return cn, transport.Welcome{SessionID: sessionID, Latency: time.Since(start)}, nil
}

// awaitCreated reads until session.created. Heartbeats and unknown messages
// sent before it are skipped.
func awaitCreated(ctx context.Context, c *websocket.Conn) (string, error) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return "", types.NewError(types.KindHandshake, "await session.created", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, err := protocol.DecodeServer(data)
		if errors.Is(err, protocol.ErrUnknownType) {
			continue
		}
		if err != nil {
			return "", types.NewError(types.KindHandshake, "decode handshake response", err)
		}
		switch ev.Type {
		case protocol.TypeSessionCreated:
			return ev.SessionID, nil
		case protocol.TypeError:
			return "", types.NewError(types.KindHandshake, "rejected by server", ev.Error)
		}
	}
}

// ── Conn ─────────────────────────────────────────────────────────────────────

type pendingPing struct {
	sent time.Time
	done chan time.Duration // nil for fire-and-forget pings
}

type conn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
	msgs         chan transport.Message
	seq          atomic.Uint64

	mu      sync.Mutex
	pending map[string]pendingPing
	errVal  error
	closed  bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (cn *conn) SendAudio(ctx context.Context, packet []byte) error {
	return cn.write(ctx, websocket.MessageBinary, packet)
}

func (cn *conn) SendSignal(ctx context.Context, t protocol.Type) error {
	data, err := protocol.Encode(protocol.Signal{Type: t})
	if err != nil {
		return err
	}
	return cn.write(ctx, websocket.MessageText, data)
}

func (cn *conn) SendPing(ctx context.Context) error {
	_, err := cn.sendPing(ctx, nil)
	return err
}

func (cn *conn) Ping(ctx context.Context) (time.Duration, error) {
	done := make(chan time.Duration, 1)
	id, err := cn.sendPing(ctx, done)
	if err != nil {
		return 0, err
	}
	select {
	case rtt := <-done:
		return rtt, nil
	case <-ctx.Done():
		cn.mu.Lock()
		delete(cn.pending, id)
		cn.mu.Unlock()
		return 0, fmt.Errorf("ws: ping %s: %w", id, ctx.Err())
	case <-cn.ctx.Done():
		return 0, errors.New("ws: connection closed while awaiting pong")
	}
}

func (cn *conn) sendPing(ctx context.Context, done chan time.Duration) (string, error) {
	id := "p-" + strconv.FormatUint(cn.seq.Add(1), 10)
	now := time.Now()

	cn.mu.Lock()
	for k, p := range cn.pending {
		if now.Sub(p.sent) > pingRetention {
			delete(cn.pending, k)
		}
	}
	cn.pending[id] = pendingPing{sent: now, done: done}
	cn.mu.Unlock()

	data, err := protocol.Encode(protocol.Ping{Type: protocol.TypePing, ID: id, SentAtMs: now.UnixMilli()})
	if err == nil {
		err = cn.write(ctx, websocket.MessageText, data)
	}
	if err != nil {
		cn.mu.Lock()
		delete(cn.pending, id)
		cn.mu.Unlock()
		return "", err
	}
	return id, nil
}

func (cn *conn) Messages() <-chan transport.Message { return cn.msgs }

func (cn *conn) Err() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.errVal
}

func (cn *conn) Close() error {
	var err error
	cn.closeOnce.Do(func() {
		cn.mu.Lock()
		cn.closed = true
		cn.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if data, encErr := protocol.Encode(protocol.Signal{Type: protocol.TypeSessionEnd}); encErr == nil {
			_ = cn.c.Write(ctx, websocket.MessageText, data)
		}
		cancel()

		err = cn.c.Close(websocket.StatusNormalClosure, "session ended")
		cn.cancel()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (cn *conn) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, cn.writeTimeout)
	defer cancel()
	if err := cn.c.Write(wctx, typ, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

func (cn *conn) readLoop() {
	defer close(cn.msgs)
	defer cn.cancel()

	for {
		typ, data, err := cn.c.Read(cn.ctx)
		if err != nil {
			cn.mu.Lock()
			if !cn.closed && cn.ctx.Err() == nil {
				cn.errVal = fmt.Errorf("ws: read: %w", err)
			}
			cn.mu.Unlock()
			return
		}
		if typ != websocket.MessageText {
			// Assistant audio playback is handled outside this client.
			continue
		}
		cn.handle(data)
	}
}

func (cn *conn) handle(data []byte) {
	now := time.Now()
	ev, err := protocol.DecodeServer(data)
	if errors.Is(err, protocol.ErrUnknownType) {
		slog.Debug("ws: ignoring unknown server message", "err", err)
		return
	}
	if err != nil {
		cn.deliver(transport.Message{
			Kind: transport.MsgMalformed,
			At:   now,
			Err:  types.NewError(types.KindTranscriptDecode, "decode server message", err),
		})
		return
	}

	switch ev.Type {
	case protocol.TypeHeartbeat:
		cn.deliver(transport.Message{Kind: transport.MsgHeartbeat, At: now})

	case protocol.TypePong:
		cn.mu.Lock()
		p, ok := cn.pending[ev.ID]
		delete(cn.pending, ev.ID)
		cn.mu.Unlock()

		var rtt time.Duration
		if ok {
			rtt = now.Sub(p.sent)
			if p.done != nil {
				p.done <- rtt
			}
		} else if ev.SentAtMs > 0 {
			rtt = now.Sub(time.UnixMilli(ev.SentAtMs))
		}
		cn.deliver(transport.Message{Kind: transport.MsgPong, At: now, RTT: rtt})

	case protocol.TypeTranscript:
		cn.deliver(transport.Message{
			Kind: transport.MsgTranscript,
			At:   now,
			Entry: types.TranscriptEntry{
				ID:      ev.Entry.ID,
				Speaker: types.Speaker(ev.Entry.Speaker),
				Text:    ev.Entry.Text,
			},
		})

	case protocol.TypeError:
		cn.deliver(transport.Message{Kind: transport.MsgServerError, At: now, Err: ev.Error})

	case protocol.TypeSessionCreated:
		// Duplicate after the handshake; nothing to do.
	}
}

func (cn *conn) deliver(m transport.Message) {
	select {
	case cn.msgs <- m:
	case <-cn.ctx.Done():
	}
}
