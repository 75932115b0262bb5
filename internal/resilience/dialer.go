package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxconsole/internal/transport"
)

// ErrAllEndpointsFailed is returned by [FailoverDialer.Dial] when no
// endpoint completed the handshake.
var ErrAllEndpointsFailed = errors.New("resilience: all endpoints failed")

// Endpoint is one dial target of a [FailoverDialer].
type Endpoint struct {
	// Name labels logs and breaker records, e.g. the endpoint URL.
	Name string

	Dialer transport.Dialer
}

// FailoverDialer implements [transport.Dialer] over an ordered list of
// endpoints. Each endpoint has its own [Breaker]; open endpoints are skipped.
type FailoverDialer struct {
	endpoints []Endpoint
	breakers  []*Breaker
}

var _ transport.Dialer = (*FailoverDialer)(nil)

// NewFailoverDialer creates a dialer that tries endpoints in order. cfg.Name
// is ignored; every breaker is named after its endpoint.
func NewFailoverDialer(cfg BreakerConfig, endpoints ...Endpoint) *FailoverDialer {
	d := &FailoverDialer{endpoints: endpoints}
	for _, ep := range endpoints {
		c := cfg
		c.Name = ep.Name
		d.breakers = append(d.breakers, NewBreaker(c))
	}
	return d
}

// Dial tries every endpoint whose breaker admits the call and returns the
// first successful handshake. When all fail, the error wraps
// [ErrAllEndpointsFailed] and the last endpoint error, so the error kind of
// that failure is preserved.
func (d *FailoverDialer) Dial(ctx context.Context, hello transport.Hello) (transport.Conn, transport.Welcome, error) {
	var lastErr error
	for i, ep := range d.endpoints {
		var (
			conn    transport.Conn
			welcome transport.Welcome
		)
		err := d.breakers[i].Do(func() error {
			var err error
			conn, welcome, err = ep.Dialer.Dial(ctx, hello)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("transport: connected to fallback endpoint", "endpoint", ep.Name)
			}
			return conn, welcome, nil
		}
		if ctx.Err() != nil {
			return nil, transport.Welcome{}, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("transport: skipping endpoint, circuit open", "endpoint", ep.Name)
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		slog.Warn("transport: endpoint failed", "endpoint", ep.Name, "err", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no endpoints configured")
	}
	return nil, transport.Welcome{}, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, lastErr)
}

// States reports the breaker state of every endpoint in order.
func (d *FailoverDialer) States() []State {
	out := make([]State, len(d.breakers))
	for i, b := range d.breakers {
		out[i] = b.State()
	}
	return out
}
