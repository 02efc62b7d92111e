package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	m := Message{
		Version:   CurrentVersion,
		CommandID: 42,
		Flags:     3,
		Params: []Param{
			{ID: 1, Type: 5, Flags: 0, Data: []byte("hello")},
			{ID: 2, Type: 6, Flags: 1, Data: []byte{1, 2, 3, 4}},
		},
	}
	buf := Encode(m)
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	m := Message{Version: 99, CommandID: 1}
	buf := Encode(m)
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRejectsParamOverrunsBuffer(t *testing.T) {
	buf := Encode(Message{Version: CurrentVersion, CommandID: 1, Params: []Param{{ID: 1, Type: 1, Data: []byte("abcd")}}})
	truncated := buf[:len(buf)-2]
	_, err := Decode(truncated)
	require.Error(t, err)
}

func TestEncodeDecodeResponseSuccessRoundTrip(t *testing.T) {
	r := Response{Status: 0, Result: []byte("answer")}
	buf := EncodeResponse(r)
	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, r.Status, got.Status)
	assert.Equal(t, r.Result, got.Result)
}

func TestEncodeDecodeResponseErrorRoundTrip(t *testing.T) {
	r := Response{Status: 1, ErrorCode: -7, ErrorMessage: "bad input"}
	buf := EncodeResponse(r)
	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, r.Status, got.Status)
	assert.Equal(t, r.ErrorCode, got.ErrorCode)
	assert.Equal(t, r.ErrorMessage, got.ErrorMessage)
}

func TestHandlerRegistryRejectsDuplicateID(t *testing.T) {
	r := NewHandlerRegistry()
	h := func(ctx context.Context, m Message) (Response, error) { return Response{}, nil }
	require.NoError(t, r.Register(HandlerEntry{ID: 1, Name: "ping", Handler: h}))
	err := r.Register(HandlerEntry{ID: 1, Name: "other", Handler: h})
	require.Error(t, err)
}

func TestHandlerRegistryRejectsDuplicateName(t *testing.T) {
	r := NewHandlerRegistry()
	h := func(ctx context.Context, m Message) (Response, error) { return Response{}, nil }
	require.NoError(t, r.Register(HandlerEntry{ID: 1, Name: "ping", Handler: h}))
	err := r.Register(HandlerEntry{ID: 2, Name: "ping", Handler: h})
	require.Error(t, err)
}

func TestExecuteRejectsDisallowedState(t *testing.T) {
	r := NewHandlerRegistry()
	h := func(ctx context.Context, m Message) (Response, error) { return Response{Status: 0}, nil }
	require.NoError(t, r.Register(HandlerEntry{ID: 1, Name: "ping", Handler: h, AllowedStates: StateActive}))

	_, err := r.Execute(context.Background(), Message{CommandID: 1}, StateIdle, 0)
	require.Error(t, err)
}

func TestExecuteRunsHandlerWhenAllowed(t *testing.T) {
	r := NewHandlerRegistry()
	h := func(ctx context.Context, m Message) (Response, error) { return Response{Status: 0, Result: []byte("ok")}, nil }
	require.NoError(t, r.Register(HandlerEntry{ID: 1, Name: "ping", Handler: h, AllowedStates: StateActive}))

	resp, err := r.Execute(context.Background(), Message{CommandID: 1}, StateActive, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Result)
}

func TestCorrelationRingBeginEndLookup(t *testing.T) {
	ring := NewCorrelationRing(4)
	id := ring.Begin()
	ring.End(id, "done")

	entry, ok := ring.Lookup(id)
	require.True(t, ok)
	assert.True(t, entry.Done)
	assert.Equal(t, "done", entry.Result)
}

func TestCorrelationRingEvictsOldestOnOverflow(t *testing.T) {
	ring := NewCorrelationRing(2)
	id1 := ring.Begin()
	ring.Begin()
	ring.Begin()

	_, ok := ring.Lookup(id1)
	assert.False(t, ok)
	assert.Equal(t, 2, ring.Len())
}

func TestCorrelationIDsAreDistinct(t *testing.T) {
	ring := NewCorrelationRing(16)
	seen := make(map[uint64]bool)
	for i := 0; i < 16; i++ {
		id := ring.Begin()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
