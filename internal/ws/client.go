// Package ws implements a self-healing WebSocket streaming client.
//
// A Client owns one connection at a time. After Start, a worker goroutine
// keeps the connection up, decodes every inbound frame and hands it to the
// Handler, while a ping goroutine sends heartbeats on the current connection.
// Every failure (dial, timeout, bad frame, handler error, heartbeat) is
// reported once through the error channel and answered the same way: drop the
// connection and dial again. Only Stop ends the loop.
//
// Callbacks run on the worker goroutine outside every client lock, so a
// handler may call SendPacket or Stop from OnConnected or OnPacket. Join must
// not be called from a callback.
package ws

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	applog "github.com/sawpanic/wsclient/internal/log"
	"github.com/sawpanic/wsclient/internal/net/circuit"
	"github.com/sawpanic/wsclient/internal/net/ratelimit"
)

// Option customises a Client at construction time
type Option func(*Client)

// WithCodec replaces the JSON object codec
func WithCodec(codec Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithTransport replaces the gorilla/websocket transport
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLogger sets the logger for lifecycle events and the default report sink
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "ws").Logger() }
}

// WithReportSink sets where error reports go when the handler does not
// implement ErrorHandler
func WithReportSink(sink ReportSink) Option {
	return func(c *Client) { c.sink = sink }
}

// WithObserver attaches a metrics observer
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithDialLimiter paces dial attempts; nil disables pacing
func WithDialLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithBreaker guards dial attempts with a circuit breaker
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// Client is a reconnecting WebSocket client. Create it with NewClient,
// configure it with Init, then Start, Stop and Join.
type Client struct {
	handler   Handler
	codec     Codec
	transport Transport
	logger    zerolog.Logger
	sink      ReportSink
	observer  Observer
	limiter   *ratelimit.Limiter
	breaker   *circuit.Breaker

	// tick is the sleep granularity of the ping task
	tick time.Duration

	mu           sync.Mutex
	cfg          Config
	initialized  bool
	frameLog     zerolog.Logger
	frameLogFile io.Closer
	cancel       context.CancelFunc

	active  atomic.Bool
	alive   atomic.Int32
	wg      sync.WaitGroup
	manager *connManager
	msgs    messageLog
	stats   counters
}

type counters struct {
	connects    atomic.Uint64
	disconnects atomic.Uint64
	received    atomic.Uint64
	sent        atomic.Uint64
	errors      atomic.Uint64
	pings       atomic.Uint64
}

// NewClient creates a client that dispatches to handler. A nil handler
// ignores every callback.
func NewClient(handler Handler, opts ...Option) *Client {
	if handler == nil {
		handler = BaseHandler{}
	}
	c := &Client{
		handler:   handler,
		codec:     JSONCodec{},
		transport: GorillaTransport{},
		logger:    log.Logger.With().Str("component", "ws").Logger(),
		observer:  nopObserver{},
		limiter:   ratelimit.NewDialLimiter(),
		tick:      time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = LogSink{Logger: c.logger}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	c.frameLog = c.logger

	c.manager = &connManager{
		dial:           c.dial,
		onConnected:    c.connected,
		onDisconnected: c.disconnected,
		logger:         c.logger,
	}
	return c
}

// Init validates and stores cfg. It must be called before Start and cannot
// be called while the client is running.
func (c *Client) Init(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	cfg = cfg.withDefaults()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.alive.Load() > 0 {
		return ErrAlreadyRunning
	}

	if err := c.closeFrameLogLocked(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close previous frame log")
	}
	if cfg.LogPath != "" {
		frameLog, closer, err := applog.NewFileLogger(cfg.LogPath)
		if err != nil {
			return fmt.Errorf("failed to open frame log: %w", err)
		}
		c.frameLog = frameLog.With().Str("host", cfg.Host).Logger()
		c.frameLogFile = closer
	}

	c.cfg = cfg
	c.manager.logger = c.logger.With().Str("host", cfg.Host).Logger()
	c.initialized = true
	return nil
}

// Start spawns the worker and ping tasks. The worker connects on its own;
// wait for OnConnected before sending.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return ErrNotInitialized
	}
	if c.alive.Load() > 0 {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.active.Store(true)

	c.alive.Add(2)
	c.wg.Add(2)
	go c.runWorker(ctx)
	go c.runPing(ctx)

	c.logger.Info().
		Str("host", c.cfg.Host).
		Dur("ping_interval", c.cfg.PingInterval).
		Dur("receive_timeout", c.cfg.ReceiveTimeout).
		Msg("WebSocket client started")
	return nil
}

// Stop asks both tasks to exit and closes the live connection so a blocked
// receive returns at once. It is safe to call from callbacks and more than once.
func (c *Client) Stop() {
	wasActive := c.active.Swap(false)

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.manager.shutdown()

	if wasActive {
		c.logger.Info().Str("host", c.config().Host).Msg("WebSocket client stopping")
	}
}

// Join blocks until the worker and ping tasks have exited. It must not be
// called from a callback or it will wait on itself.
func (c *Client) Join() {
	c.wg.Wait()
}

// Close stops the client, waits for its tasks and releases the frame log
func (c *Client) Close() error {
	c.Stop()
	c.Join()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeFrameLogLocked()
}

func (c *Client) closeFrameLogLocked() error {
	if c.frameLogFile == nil {
		return nil
	}
	err := c.frameLogFile.Close()
	c.frameLogFile = nil
	c.frameLog = c.logger
	return err
}

// SendPacket encodes p with the codec and sends it as a text frame. Without a
// live connection it does nothing; failures go to the error channel.
func (c *Client) SendPacket(p any) {
	data, err := c.codec.Encode(p)
	if err != nil {
		c.report(nil, KindEncode, "send_packet", err)
		return
	}
	c.SendText(string(data))
}

// SendText sends text as a text frame if connected
func (c *Client) SendText(text string) {
	c.msgs.recordSent(text)

	h := c.manager.current()
	if h == nil {
		return
	}
	if err := h.conn.WriteText([]byte(text)); err != nil {
		c.report(h, KindTransport, "send_text", err)
		return
	}
	c.sentFrame(len(text))
	c.frameLogger().Debug().Str("conn_id", h.id).Str("text", text).Msg("sent text")
}

// SendBinary sends data as a binary frame if connected
func (c *Client) SendBinary(data []byte) {
	h := c.manager.current()
	if h == nil {
		return
	}
	if err := h.conn.WriteBinary(data); err != nil {
		c.report(h, KindTransport, "send_binary", err)
		return
	}
	c.sentFrame(len(data))
	c.frameLogger().Debug().Str("conn_id", h.id).Hex("data", data).Msg("sent binary")
}

func (c *Client) sentFrame(size int) {
	c.stats.sent.Add(1)
	c.observer.ObserveSend(c.config().Host, size)
}

// Connected reports whether a connection is currently installed
func (c *Client) Connected() bool {
	return c.manager.current() != nil
}

// LastSent returns the last text sent, truncated to 1000 characters
func (c *Client) LastSent() string {
	sent, _ := c.msgs.snapshot()
	return sent
}

// LastReceived returns the last text received, truncated to 1000 characters
func (c *Client) LastReceived() string {
	_, received := c.msgs.snapshot()
	return received
}

// Status is a point-in-time view of a client for monitoring
type Status struct {
	Host            string                            `json:"host"`
	Active          bool                              `json:"active"`
	Connected       bool                              `json:"connected"`
	ConnID          string                            `json:"conn_id,omitempty"`
	ConnectedSince  *time.Time                        `json:"connected_since,omitempty"`
	Connects        uint64                            `json:"connects"`
	Disconnects     uint64                            `json:"disconnects"`
	PacketsReceived uint64                            `json:"packets_received"`
	PacketsSent     uint64                            `json:"packets_sent"`
	PingsSent       uint64                            `json:"pings_sent"`
	Errors          uint64                            `json:"errors"`
	LastSent        string                            `json:"last_sent"`
	LastReceived    string                            `json:"last_received"`
	Dial            map[string]ratelimit.LimiterStats `json:"dial,omitempty"`
	DialThrottled   bool                              `json:"dial_throttled"`
	Breaker         *circuit.Stats                    `json:"breaker,omitempty"`
}

// Status returns counters and connection state
func (c *Client) Status() Status {
	sent, received := c.msgs.snapshot()
	st := Status{
		Host:            c.config().Host,
		Active:          c.active.Load(),
		Connects:        c.stats.connects.Load(),
		Disconnects:     c.stats.disconnects.Load(),
		PacketsReceived: c.stats.received.Load(),
		PacketsSent:     c.stats.sent.Load(),
		PingsSent:       c.stats.pings.Load(),
		Errors:          c.stats.errors.Load(),
		LastSent:        sent,
		LastReceived:    received,
	}
	if h := c.manager.current(); h != nil {
		since := h.dialedAt
		st.Connected = true
		st.ConnID = h.id
		st.ConnectedSince = &since
	}
	if c.limiter != nil {
		st.Dial = c.limiter.Stats()
		for _, stats := range st.Dial {
			if stats.IsThrottled() {
				st.DialThrottled = true
			}
		}
	}
	if c.breaker != nil {
		stats := c.breaker.Stats()
		st.Breaker = &stats
	}
	return st
}

func (c *Client) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Client) frameLogger() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := c.frameLog
	return &logger
}

// dial paces, breaker-guards and performs one connection attempt
func (c *Client) dial(ctx context.Context) (Conn, error) {
	cfg := c.config()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, cfg.endpoint()); err != nil {
			return nil, err
		}
	}

	var conn Conn
	attempt := func(ctx context.Context) error {
		var err error
		conn, err = c.transport.Dial(ctx, cfg)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, attempt)
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) connected(h *handle) {
	c.stats.connects.Add(1)
	c.observer.ObserveConnect(c.config().Host)
	c.handler.OnConnected()
}

func (c *Client) disconnected(h *handle) {
	cfg := c.config()
	c.stats.disconnects.Add(1)
	c.observer.ObserveDisconnect(cfg.Host)
	// a connection that outlived one ping interval earns a full dial burst
	if c.limiter != nil && time.Since(h.dialedAt) >= cfg.PingInterval {
		c.limiter.Forget(cfg.endpoint())
	}
	c.handler.OnDisconnected()
}

// report builds the error report and routes it to the handler or the sink.
// It never panics.
func (c *Client) report(h *handle, kind Kind, op string, err error) {
	defer func() {
		if r := recover(); r != nil {
			lastResort("error reporting panicked: %v (while reporting %v)", r, err)
		}
	}()

	host := c.config().Host
	connID := ""
	if h != nil {
		connID = h.id
	}

	wsErr := &Error{Kind: kind, Op: op, Err: err}
	wsErr.Report = buildReport(kind, op, host, connID, err, &c.msgs)

	c.stats.errors.Add(1)
	c.observer.ObserveError(host, kind)

	if eh, ok := c.handler.(ErrorHandler); ok && routesErrors(c.handler) {
		eh.OnError(wsErr)
		return
	}
	if c.sink == nil {
		lastResort("%s", wsErr.Report)
		return
	}
	if sinkErr := c.sink.WriteReport(wsErr.Report); sinkErr != nil {
		lastResort("report sink failed: %v\n%s", sinkErr, wsErr.Report)
	}
}

// routesErrors lets adapters such as HandlerFuncs opt out of ErrorHandler
func routesErrors(h Handler) bool {
	if r, ok := h.(interface{ routesErrors() bool }); ok {
		return r.routesErrors()
	}
	return true
}
