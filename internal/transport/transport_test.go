package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libpolycall/polycall-go/internal/protocol"
)

func TestRawCodecRoundTrip(t *testing.T) {
	c := rawCodec{}
	want := &RawBytes{Data: []byte{1, 2, 3, 4}}

	encoded, err := c.Marshal(want)
	require.NoError(t, err)

	got := new(RawBytes)
	require.NoError(t, c.Unmarshal(encoded, got))
	assert.Equal(t, want.Data, got.Data)
}

func TestRawCodecRejectsWrongType(t *testing.T) {
	c := rawCodec{}
	_, err := c.Marshal("not raw bytes")
	require.Error(t, err)
}

func TestAdapterExecutesRegisteredCommand(t *testing.T) {
	reg := protocol.NewHandlerRegistry()
	require.NoError(t, reg.Register(protocol.HandlerEntry{
		ID:            1,
		Name:          "ping",
		AllowedStates: protocol.StateActive,
		Handler: func(ctx context.Context, m protocol.Message) (protocol.Response, error) {
			return protocol.Response{Status: 0, Result: []byte("pong")}, nil
		},
	}))

	a := NewAdapter(reg, 0)
	a.SetState(protocol.StateActive)

	reqBytes := protocol.Encode(protocol.Message{Version: protocol.CurrentVersion, CommandID: 1})
	respBytes, err := a.ExecuteWire(context.Background(), reqBytes)
	require.NoError(t, err)

	resp, err := protocol.DecodeResponse(respBytes)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), resp.Status)
	assert.Equal(t, []byte("pong"), resp.Result)
}

func TestAdapterRejectsDisallowedState(t *testing.T) {
	reg := protocol.NewHandlerRegistry()
	require.NoError(t, reg.Register(protocol.HandlerEntry{
		ID:            1,
		Name:          "ping",
		AllowedStates: protocol.StateActive,
		Handler: func(ctx context.Context, m protocol.Message) (protocol.Response, error) {
			return protocol.Response{Status: 0}, nil
		},
	}))

	a := NewAdapter(reg, 0) // starts in StateIdle
	reqBytes := protocol.Encode(protocol.Message{Version: protocol.CurrentVersion, CommandID: 1})
	respBytes, err := a.ExecuteWire(context.Background(), reqBytes)
	require.NoError(t, err) // ExecuteWire never returns a transport-level error, only wire errors

	resp, err := protocol.DecodeResponse(respBytes)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), resp.Status)
}

func TestAdapterReturnsWireErrorOnMalformedRequest(t *testing.T) {
	reg := protocol.NewHandlerRegistry()
	a := NewAdapter(reg, 0)

	respBytes, err := a.ExecuteWire(context.Background(), []byte{0, 0})
	require.NoError(t, err)

	resp, err := protocol.DecodeResponse(respBytes)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), resp.Status)
}
