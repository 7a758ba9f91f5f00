package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/wsclient/internal/ws"
)

type fakeStream struct {
	mu   sync.Mutex
	adds []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1700000000000-0", nil)
}

func TestRedisPublisher_Publish(t *testing.T) {
	stream := &fakeStream{}
	pub := NewRedisPublisher(stream, RedisConfig{Stream: "ws:packets", MaxLen: 1000}, zerolog.Nop())

	id, err := pub.Publish(context.Background(), "ws://x/ws", ws.Packet{"op": "trade", "px": "1.5"})
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", id)

	require.Len(t, stream.adds, 1)
	args := stream.adds[0]
	assert.Equal(t, "ws:packets", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, "ws://x/ws", values["host"])
	assert.JSONEq(t, `{"op":"trade","px":"1.5"}`, values["data"].(string))
	assert.NotEmpty(t, values["received_at"])
}

func TestRedisPublisher_Unbounded(t *testing.T) {
	stream := &fakeStream{}
	pub := NewRedisPublisher(stream, RedisConfig{Stream: "s"}, zerolog.Nop())

	_, err := pub.Publish(context.Background(), "h", ws.Packet{})
	require.NoError(t, err)
	assert.Zero(t, stream.adds[0].MaxLen)
	assert.False(t, stream.adds[0].Approx)
}

func TestRedisPublisher_Error(t *testing.T) {
	stream := &fakeStream{err: errors.New("READONLY You can't write against a read only replica")}
	pub := NewRedisPublisher(stream, RedisConfig{Stream: "s"}, zerolog.Nop())

	_, err := pub.Publish(context.Background(), "h", ws.Packet{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
}

func TestRedisPublisher_WriteReport(t *testing.T) {
	stream := &fakeStream{}
	pub := NewRedisPublisher(stream, RedisConfig{Stream: "ws:packets"}, zerolog.Nop())

	report := &ws.ErrorReport{Kind: "decode", Op: "decode", Host: "ws://x/ws", Message: "bad frame"}
	require.NoError(t, pub.WriteReport(report))

	args := stream.adds[0]
	assert.Equal(t, "ws:packets:errors", args.Stream)
	values := args.Values.(map[string]interface{})
	assert.Equal(t, "decode", values["kind"])

	var decoded ws.ErrorReport
	require.NoError(t, json.Unmarshal([]byte(values["report"].(string)), &decoded))
	assert.Equal(t, "bad frame", decoded.Message)
}
