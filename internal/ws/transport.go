package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingPayload  = "ping"
	writeTimeout = 10 * time.Second
)

// Transport opens connections to a streaming endpoint
type Transport interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is one established connection. Receive is only ever called from the
// worker task; writes may come from any goroutine.
type Conn interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	Ping() error
	// Receive blocks for the next data frame. It returns "" and a nil error
	// when the peer closed the connection.
	Receive(timeout time.Duration) (string, error)
	Close() error
}

// GorillaTransport dials with github.com/gorilla/websocket
type GorillaTransport struct {
	// ReadLimit caps inbound message size in bytes; 0 keeps the library default.
	ReadLimit int64
}

// Dial performs the opening handshake using the host, proxy, headers and TLS
// policy from cfg. The handshake is bounded by cfg.ReceiveTimeout.
func (t GorillaTransport) Dial(ctx context.Context, cfg Config) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ReceiveTimeout,
		NetDialContext:   (&net.Dialer{Timeout: cfg.ReceiveTimeout}).DialContext,
		Proxy:            http.ProxyFromEnvironment,
	}
	if proxy := cfg.proxyURL(); proxy != nil {
		dialer.Proxy = http.ProxyURL(proxy)
	}
	if cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	}

	header := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.Host, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake with %s failed with status %d: %w", cfg.Host, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.Host, err)
	}
	if t.ReadLimit > 0 {
		conn.SetReadLimit(t.ReadLimit)
	}

	return newGorillaConn(conn), nil
}

type gorillaConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	// readTimeout is the deadline extension granted by each pong
	readTimeout time.Duration
	readMu      sync.Mutex
}

func newGorillaConn(conn *websocket.Conn) *gorillaConn {
	c := &gorillaConn{conn: conn}
	conn.SetPongHandler(func(string) error {
		c.readMu.Lock()
		timeout := c.readTimeout
		c.readMu.Unlock()
		if timeout > 0 {
			return conn.SetReadDeadline(time.Now().Add(timeout))
		}
		return nil
	})
	return c
}

func (c *gorillaConn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *gorillaConn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *gorillaConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Ping uses WriteControl, which gorilla allows concurrently with other writers
func (c *gorillaConn) Ping() error {
	if err := c.conn.WriteControl(websocket.PingMessage, []byte(pingPayload), time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	return nil
}

func (c *gorillaConn) Receive(timeout time.Duration) (string, error) {
	c.readMu.Lock()
	c.readTimeout = timeout
	c.readMu.Unlock()

	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("%w after %s", ErrReceiveTimeout, timeout)
		}
		return "", fmt.Errorf("read frame: %w", err)
	}
	return string(data), nil
}

// Close sends a best-effort close frame and tears down the socket
func (c *gorillaConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
