package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// handle is the live connection owned by connManager
type handle struct {
	conn     Conn
	id       string
	dialedAt time.Time
}

// connManager owns the single live handle of a Client. The mutex guards only
// the check-and-set of the handle; dials, closes and callbacks run outside it.
type connManager struct {
	mu sync.Mutex
	h  *handle
	// detached was closed by shutdown; its OnDisconnected is still owed
	detached *handle
	dialMu   sync.Mutex // serialises ensureConnected callers

	dial           func(ctx context.Context) (Conn, error)
	onConnected    func(h *handle)
	onDisconnected func(h *handle)
	logger         zerolog.Logger
}

// current returns the live handle, or nil when disconnected
func (m *connManager) current() *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.h
}

// ensureConnected dials when no handle exists. On success onConnected fires
// exactly once, outside the lock. A handle is never installed once ctx is done.
func (m *connManager) ensureConnected(ctx context.Context) (*handle, error) {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	if h := m.current(); h != nil {
		return h, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	h := &handle{conn: conn, id: uuid.NewString(), dialedAt: time.Now()}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ctx.Err()
	}
	m.h = h
	m.mu.Unlock()

	m.logger.Info().Str("conn_id", h.id).Msg("WebSocket connected")
	m.onConnected(h)
	return h, nil
}

// disconnect removes and closes the live handle, then fires onDisconnected
// once. It also settles a notification left owed by shutdown. With nothing to
// settle it is a no-op.
func (m *connManager) disconnect() {
	m.mu.Lock()
	h, detached := m.h, m.detached
	m.h, m.detached = nil, nil
	m.mu.Unlock()

	if h != nil {
		if err := h.conn.Close(); err != nil {
			m.logger.Debug().Err(err).Str("conn_id", h.id).Msg("WebSocket close returned error")
		}
		m.logger.Info().Str("conn_id", h.id).Dur("uptime", time.Since(h.dialedAt)).Msg("WebSocket disconnected")
	}

	// sockets are closed before any callback can panic
	if detached != nil {
		m.onDisconnected(detached)
	}
	if h != nil {
		m.onDisconnected(h)
	}
}

// shutdown closes the live handle from any goroutine without firing a
// callback; the next disconnect on the worker delivers the notification.
func (m *connManager) shutdown() {
	m.mu.Lock()
	h := m.h
	if h != nil {
		m.h = nil
		m.detached = h
	}
	m.mu.Unlock()

	if h != nil {
		_ = h.conn.Close()
		m.logger.Info().Str("conn_id", h.id).Msg("WebSocket closed by stop")
	}
}
