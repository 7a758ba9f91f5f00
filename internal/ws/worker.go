package ws

import (
	"context"
	"errors"
)

// runWorker owns the connection: it dials when disconnected, receives one
// frame per cycle and dispatches it. All Handler lifecycle callbacks and
// OnPacket run here.
func (c *Client) runWorker(ctx context.Context) {
	defer c.wg.Done()
	defer c.alive.Add(-1)

	for c.active.Load() {
		c.workerCycle(ctx)
	}

	// settles the OnDisconnected owed after a Stop
	c.disconnectGuarded()
	c.logger.Debug().Str("host", c.config().Host).Msg("Worker task exited")
}

// workerCycle runs a single connect/receive/dispatch step. A panic anywhere in
// it is reported and answered with a reconnect.
func (c *Client) workerCycle(ctx context.Context) {
	var h *handle
	defer func() {
		if r := recover(); r != nil {
			c.report(h, KindUnexpected, "worker", panicError(r))
			c.disconnectGuarded()
		}
	}()

	h, err := c.manager.ensureConnected(ctx)
	if err != nil {
		if !c.active.Load() || ctx.Err() != nil {
			return
		}
		c.report(nil, KindTransport, "connect", err)
		if c.limiter == nil {
			sleep(ctx, c.tick)
		}
		return
	}

	cfg := c.config()
	text, err := h.conn.Receive(cfg.ReceiveTimeout)
	if err != nil {
		if c.active.Load() {
			if errors.Is(err, ErrReceiveTimeout) {
				c.report(h, KindTimeout, "receive", err)
			} else {
				c.stats.errors.Add(1)
				c.observer.ObserveError(cfg.Host, KindTransport)
				c.logger.Warn().Err(err).Str("host", cfg.Host).Str("conn_id", h.id).Msg("WebSocket receive failed")
			}
		}
		c.manager.disconnect()
		return
	}
	if text == "" {
		c.logger.Info().Str("host", cfg.Host).Str("conn_id", h.id).Msg("WebSocket closed by peer")
		c.manager.disconnect()
		return
	}

	c.msgs.recordReceived(text)
	c.stats.received.Add(1)
	c.observer.ObserveReceive(cfg.Host, len(text))
	c.frameLogger().Debug().Str("conn_id", h.id).Str("text", text).Msg("recv data")

	packet, err := c.codec.Decode([]byte(text))
	if err != nil {
		c.report(h, KindDecode, "decode", err)
		c.manager.disconnect()
		return
	}

	if err := c.dispatch(packet); err != nil {
		c.report(h, KindCallback, "on_packet", err)
		c.manager.disconnect()
	}
}

// disconnectGuarded drops the connection and reports a panic from OnDisconnected
func (c *Client) disconnectGuarded() {
	defer func() {
		if r := recover(); r != nil {
			c.report(nil, KindUnexpected, "worker", panicError(r))
		}
	}()
	c.manager.disconnect()
}

// dispatch calls OnPacket, turning a panic into an error
func (c *Client) dispatch(p Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return c.handler.OnPacket(p)
}
