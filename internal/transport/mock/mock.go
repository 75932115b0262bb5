// Package mock provides test doubles for the transport interfaces.
//
// Use Dialer to script handshake outcomes in order and inspect every Hello the
// session manager sent. Use Conn to push inbound messages, simulate a dropped
// connection, and inspect outbound audio and signals.
//
// Example:
//
//	conn := mock.NewConn()
//	d := &mock.Dialer{Results: []mock.DialResult{
//	    {Conn: conn, Welcome: transport.Welcome{SessionID: "s-1"}},
//	}}
//	conn.Push(transport.Message{Kind: transport.MsgHeartbeat})
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/voxconsole/internal/transport"
	"github.com/MrWong99/voxconsole/internal/transport/protocol"
)

var _ transport.Dialer = (*Dialer)(nil)
var _ transport.Conn = (*Conn)(nil)

// DialResult is one scripted outcome of Dialer.Dial.
type DialResult struct {
	Conn    *Conn
	Welcome transport.Welcome
	Err     error
}

// Dialer is a mock implementation of transport.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Results are returned by successive Dial calls. Once exhausted, Dial
	// returns DefaultErr if set, otherwise a fresh Conn.
	Results []DialResult

	// DefaultErr is returned after Results runs out.
	DefaultErr error

	// DialCalls records the Hello of every Dial call in order.
	DialCalls []transport.Hello

	// conns records every Conn returned.
	conns []*Conn
}

// Dial records the call and returns the next scripted result.
func (d *Dialer) Dial(ctx context.Context, hello transport.Hello) (transport.Conn, transport.Welcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, hello)
	if err := ctx.Err(); err != nil {
		return nil, transport.Welcome{}, err
	}

	var r DialResult
	switch {
	case len(d.Results) > 0:
		r = d.Results[0]
		d.Results = d.Results[1:]
	case d.DefaultErr != nil:
		r = DialResult{Err: d.DefaultErr}
	default:
		r = DialResult{Welcome: transport.Welcome{SessionID: "mock-session"}}
	}
	if r.Err != nil {
		return nil, transport.Welcome{}, r.Err
	}
	if r.Conn == nil {
		r.Conn = NewConn()
	}
	d.conns = append(d.conns, r.Conn)
	return r.Conn, r.Welcome, nil
}

// Calls returns a copy of DialCalls. Thread-safe.
func (d *Dialer) Calls() []transport.Hello {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]transport.Hello, len(d.DialCalls))
	copy(out, d.DialCalls)
	return out
}

// Conns returns every Conn handed out so far. Thread-safe.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Conn is a mock implementation of transport.Conn.
type Conn struct {
	mu sync.Mutex

	msgs   chan transport.Message
	once   sync.Once
	err    error
	closed bool

	// --- Configurable behaviour ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// PingRTT is returned by Ping.
	PingRTT time.Duration

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// --- Call records ---

	// SentAudio records a copy of every packet passed to SendAudio.
	SentAudio [][]byte

	// Signals records every SendSignal type in order.
	Signals []protocol.Type

	// SendPingCallCount is the number of times SendPing was called.
	SendPingCallCount int

	// PingCallCount is the number of times Ping was called.
	PingCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewConn returns a Conn with a buffered message channel.
func NewConn() *Conn {
	return &Conn{msgs: make(chan transport.Message, 64)}
}

// Push delivers m on Messages. It is a no-op once the connection ended.
func (c *Conn) Push(m transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	c.msgs <- m
}

// Drop ends the connection as if the backend went away with err.
func (c *Conn) Drop(err error) {
	if err == nil {
		err = errors.New("mock: connection dropped")
	}
	c.end(err)
}

func (c *Conn) end(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		close(c.msgs)
		c.mu.Unlock()
	})
}

// SendAudio records a copy of packet and returns SendAudioErr.
func (c *Conn) SendAudio(_ context.Context, packet []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(packet))
	copy(cp, packet)
	c.SentAudio = append(c.SentAudio, cp)
	return c.SendAudioErr
}

// SendSignal records t.
func (c *Conn) SendSignal(_ context.Context, t protocol.Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signals = append(c.Signals, t)
	return nil
}

// SendPing increments SendPingCallCount.
func (c *Conn) SendPing(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SendPingCallCount++
	return nil
}

// Ping increments PingCallCount and returns PingRTT, PingErr.
func (c *Conn) Ping(context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PingCallCount++
	return c.PingRTT, c.PingErr
}

// Messages returns the inbound channel.
func (c *Conn) Messages() <-chan transport.Message { return c.msgs }

// Err returns the error passed to Drop.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close increments CloseCallCount and ends the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.CloseCallCount++
	c.mu.Unlock()
	c.end(nil)
	return nil
}

// Snapshot returns copies of the recorded outbound traffic. Thread-safe.
func (c *Conn) Snapshot() (audio [][]byte, signals []protocol.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	audio = append([][]byte(nil), c.SentAudio...)
	signals = append([]protocol.Type(nil), c.Signals...)
	return audio, signals
}

// Pings returns SendPingCallCount. Thread-safe.
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SendPingCallCount
}

// Closes returns CloseCallCount. Thread-safe.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCallCount
}
