package ws

import (
	"context"
	"time"
)

// runPing sends a heartbeat on the current connection every PingInterval. It
// never dials; with no connection the heartbeat is skipped.
func (c *Client) runPing(ctx context.Context) {
	defer c.wg.Done()
	defer c.alive.Add(-1)

	for c.active.Load() {
		c.pingCycle(ctx)
	}
	c.logger.Debug().Str("host", c.config().Host).Msg("Ping task exited")
}

func (c *Client) pingCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.report(c.manager.current(), KindUnexpected, "ping", panicError(r))
			sleep(ctx, c.tick)
		}
	}()

	cfg := c.config()
	if h := c.manager.current(); h != nil {
		err := h.conn.Ping()
		c.observer.ObservePing(cfg.Host, err)
		if err != nil {
			if c.active.Load() {
				c.report(h, KindHeartbeat, "ping", err)
			}
			// give the worker a moment to reconnect
			sleep(ctx, c.tick)
		} else {
			c.stats.pings.Add(1)
		}
	}

	ticks := int((cfg.PingInterval + c.tick - 1) / c.tick)
	for i := 0; i < ticks && c.active.Load(); i++ {
		if !sleep(ctx, c.tick) {
			return
		}
	}
}

// sleep waits for d or until ctx is done; it reports whether d elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
