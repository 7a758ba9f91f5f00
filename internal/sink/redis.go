package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/wsclient/internal/ws"
)

// StreamAdder is the part of *redis.Client the publisher needs
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisConfig configures a RedisPublisher
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64         // approximate stream cap; 0 leaves the stream unbounded
	Timeout  time.Duration // per XADD
}

// NewRedisClient opens a client and checks the server is reachable
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisPublisher appends decoded packets and error reports to Redis streams.
// Reports go to "<stream>:errors".
type RedisPublisher struct {
	client  StreamAdder
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisPublisher wraps client
func NewRedisPublisher(client StreamAdder, cfg RedisConfig, logger zerolog.Logger) *RedisPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisPublisher{
		client:  client,
		stream:  cfg.Stream,
		maxLen:  cfg.MaxLen,
		timeout: timeout,
		logger:  logger.With().Str("component", "redis_sink").Str("stream", cfg.Stream).Logger(),
	}
}

// Publish appends packet, received from host, to the packet stream and
// returns the entry ID
func (p *RedisPublisher) Publish(ctx context.Context, host string, packet ws.Packet) (string, error) {
	data, err := json.Marshal(packet)
	if err != nil {
		return "", fmt.Errorf("failed to marshal packet: %w", err)
	}
	return p.add(ctx, p.stream, map[string]interface{}{
		"host":        host,
		"received_at": time.Now().UTC().Format(time.RFC3339Nano),
		"data":        string(data),
	})
}

// WriteReport appends r to the error stream
func (p *RedisPublisher) WriteReport(r *ws.ErrorReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = p.add(context.Background(), p.stream+":errors", map[string]interface{}{
		"host":   r.Host,
		"kind":   r.Kind,
		"report": string(data),
	})
	return err
}

func (p *RedisPublisher) add(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.logger.Debug().Err(err).Str("target", stream).Msg("XADD failed")
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}
