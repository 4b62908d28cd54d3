package transport

import (
	"context"
	"sync"
	"time"
)

// responseTimeout bounds every request/response round trip. Exceeding it is
// a hard failure; the transport never retries on its own.
const responseTimeout = 5 * time.Second

// Transport is the framed protocol surface the hub session drives. Both the
// wireless and wired variants implement it.
type Transport interface {
	// Send writes one framed command. If expectResponse is true it waits
	// for the response payload, racing the wait against the response
	// timeout, disconnection and ctx.
	Send(ctx context.Context, frame []byte, expectResponse bool) ([]byte, error)

	// Events returns the device-wide status and stdout stream.
	Events() *Stream

	// Done is closed when the connection leaves the connected state, for
	// composing external waits with disconnection.
	Done() <-chan struct{}

	// MaxWriteSize is the channel's own write ceiling in bytes, or zero
	// when the channel imposes none.
	MaxWriteSize() int

	// Close releases the channel and wakes every outstanding wait.
	// Safe to call more than once.
	Close() error
}

// Logger is the optional logging interface, compatible with the slog-backed
// logging package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Option configures a transport at construction time.
type Option func(*link)

// WithLogger attaches a logger to the transport.
func WithLogger(log Logger) Option {
	return func(l *link) {
		if log != nil {
			l.log = log
		}
	}
}

// WithResponseTimeout overrides the request/response bound. Intended for
// tests; production code keeps the fixed default.
func WithResponseTimeout(d time.Duration) Option {
	return func(l *link) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}
