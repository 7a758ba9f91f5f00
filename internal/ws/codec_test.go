package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_Decode(t *testing.T) {
	codec := JSONCodec{}

	tests := []struct {
		name    string
		input   string
		want    Packet
		wantErr error
	}{
		{name: "object", input: `{"op":"ping"}`, want: Packet{"op": "ping"}},
		{name: "numbers keep precision", input: `{"price":50000.123456789}`, want: Packet{"price": json.Number("50000.123456789")}},
		{name: "nested", input: `{"data":{"bids":[["1","2"]]}}`, want: Packet{"data": map[string]any{"bids": []any{[]any{"1", "2"}}}}},
		{name: "array", input: `[1,2]`, wantErr: ErrNotObject},
		{name: "string", input: `"hello"`, wantErr: ErrNotObject},
		{name: "garbage", input: `not-json`},
		{name: "trailing", input: `{"a":1}{"b":2}`},
		{name: "empty", input: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Decode([]byte(tt.input))
			if tt.want != nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestJSONCodec_Encode(t *testing.T) {
	codec := JSONCodec{}

	data, err := codec.Encode(map[string]any{"op": "subscribe", "args": []string{"BTC-USD"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":["BTC-USD"]}`, string(data))

	_, err = codec.Encode(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}
