package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sawpanic/wsclient/internal/sink"
	"github.com/sawpanic/wsclient/internal/ws"
)

// packetPrinter writes every packet as a JSON line and optionally forwards it
// to a Redis stream
type packetPrinter struct {
	host      string
	logger    zerolog.Logger
	publisher *sink.RedisPublisher

	mu  sync.Mutex
	enc *json.Encoder
}

func newPacketPrinter(out io.Writer, host string, publisher *sink.RedisPublisher, logger zerolog.Logger) *packetPrinter {
	return &packetPrinter{
		host:      host,
		logger:    logger,
		publisher: publisher,
		enc:       json.NewEncoder(out),
	}
}

func (p *packetPrinter) OnConnected() {
	p.logger.Info().Str("host", p.host).Msg("Stream connected")
}

func (p *packetPrinter) OnDisconnected() {
	p.logger.Info().Str("host", p.host).Msg("Stream disconnected")
}

func (p *packetPrinter) OnPacket(packet ws.Packet) error {
	p.mu.Lock()
	err := p.enc.Encode(packet)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	if p.publisher != nil {
		if _, err := p.publisher.Publish(context.Background(), p.host, packet); err != nil {
			// a Redis outage must not tear down the stream
			p.logger.Warn().Err(err).Msg("Failed to publish packet")
		}
	}
	return nil
}
