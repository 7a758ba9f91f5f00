package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/wsclient/internal/net/ratelimit"
)

// recorder captures callbacks in the order they arrive
type recorder struct {
	mu      sync.Mutex
	events  []string
	packets []Packet
	errs    []*Error

	onConnected    func()
	onDisconnected func()
	onPacket       func(p Packet) error
}

func (r *recorder) OnConnected() {
	r.mu.Lock()
	r.events = append(r.events, "connected")
	fn := r.onConnected
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *recorder) OnDisconnected() {
	r.mu.Lock()
	r.events = append(r.events, "disconnected")
	fn := r.onDisconnected
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *recorder) OnPacket(p Packet) error {
	r.mu.Lock()
	r.events = append(r.events, "packet")
	r.packets = append(r.packets, p)
	fn := r.onPacket
	r.mu.Unlock()
	if fn != nil {
		return fn(p)
	}
	return nil
}

func (r *recorder) OnError(err *Error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Packets() []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Packet(nil), r.packets...)
}

func (r *recorder) Errors() []*Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Error(nil), r.errs...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.Events() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) errorsOf(kind Kind) []*Error {
	var out []*Error
	for _, err := range r.Errors() {
		if err.Kind == kind {
			out = append(out, err)
		}
	}
	return out
}

// newTestClient returns an initialised client tuned for fast tests
func newTestClient(t *testing.T, h Handler, host string, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{
		WithLogger(zerolog.Nop()),
		WithDialLimiter(ratelimit.NewLimiter(100, 10)),
	}, opts...)
	c := NewClient(h, opts...)
	c.tick = 10 * time.Millisecond

	cfg := DefaultConfig(host)
	cfg.PingInterval = 50 * time.Millisecond
	cfg.ReceiveTimeout = 2 * time.Second
	require.NoError(t, c.Init(cfg))

	t.Cleanup(func() { _ = c.Close() })
	return c
}

// requireAlternation checks that lifecycle callbacks alternate and packets
// only arrive while connected
func requireAlternation(t *testing.T, events []string) {
	t.Helper()
	connected := false
	for i, e := range events {
		switch e {
		case "connected":
			require.False(t, connected, "double connected at %d: %v", i, events)
			connected = true
		case "disconnected":
			require.True(t, connected, "disconnected without connected at %d: %v", i, events)
			connected = false
		case "packet":
			require.True(t, connected, "packet outside a connection at %d: %v", i, events)
		}
	}
}

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is an in-memory Conn driven by the test
type fakeConn struct {
	frames  chan string
	closed  chan struct{}
	once    sync.Once
	pingErr error

	mu         sync.Mutex
	written    []string
	pings      atomic.Int64
	failWrites atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan string, 16), closed: make(chan struct{})}
}

func (c *fakeConn) WriteText(data []byte) error {
	if c.failWrites.Load() {
		return errors.New("write: broken pipe")
	}
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, string(data))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) WriteBinary(data []byte) error { return c.WriteText(data) }

func (c *fakeConn) Ping() error {
	c.pings.Add(1)
	return c.pingErr
}

func (c *fakeConn) Receive(timeout time.Duration) (string, error) {
	select {
	case text := <-c.frames:
		return text, nil
	case <-c.closed:
		return "", errFakeClosed
	case <-time.After(timeout):
		return "", fmt.Errorf("%w after %s", ErrReceiveTimeout, timeout)
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

// fakeTransport hands out fakeConns, or fails while err is set
type fakeTransport struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
	dials atomic.Int64

	newConn func() *fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context, cfg Config) (Conn, error) {
	t.dials.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	conn := newFakeConn()
	if t.newConn != nil {
		conn = t.newConn()
	}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) SetErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *fakeTransport) Conns() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeConn(nil), t.conns...)
}

func (t *fakeTransport) Last() *fakeConn {
	conns := t.Conns()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// captureSink records reports written to it
type captureSink struct {
	mu      sync.Mutex
	reports []*ErrorReport
	err     error
}

func (s *captureSink) WriteReport(r *ErrorReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

func (s *captureSink) Reports() []*ErrorReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ErrorReport(nil), s.reports...)
}
