package apiserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libpolycall/polycall-go/internal/bridge/bridgetest"
	"github.com/libpolycall/polycall-go/internal/protocol"
	"github.com/libpolycall/polycall-go/internal/registry"
	"github.com/libpolycall/polycall-go/internal/types"
	"github.com/libpolycall/polycall-go/internal/typemap"
	"github.com/libpolycall/polycall-go/polycall"
)

func newTestContext(t *testing.T) *polycall.Context {
	t.Helper()
	ctx, err := polycall.CreateContext(polycall.FlagNone)
	require.NoError(t, err)
	t.Cleanup(func() { polycall.DestroyContext(ctx) })
	return ctx
}

func serializeString(t *testing.T, s string) []byte {
	t.Helper()
	b, err := typemap.Serialize(types.NewString(s, true))
	require.NoError(t, err)
	return b
}

func TestRegisterRejectsDuplicateCommandIDs(t *testing.T) {
	reg := protocol.NewHandlerRegistry()
	ctx := newTestContext(t)
	require.NoError(t, Register(reg, ctx))
	assert.Error(t, Register(reg, ctx))
}

func TestPingHandlerReturnsPong(t *testing.T) {
	reg := protocol.NewHandlerRegistry()
	ctx := newTestContext(t)
	require.NoError(t, Register(reg, ctx))

	msg := protocol.Message{Version: protocol.CurrentVersion, CommandID: CommandPing}
	resp, err := reg.Execute(context.Background(), msg, protocol.StateIdle, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), resp.Status)
	assert.Equal(t, []byte("pong"), resp.Result)
}

func TestGetInfoHandlerReportsRegisteredSurface(t *testing.T) {
	reg := protocol.NewHandlerRegistry()
	ctx := newTestContext(t)
	require.NoError(t, Register(reg, ctx))

	br := bridgetest.New("go")
	require.NoError(t, ctx.RegisterBridge(context.Background(), br))
	sig := types.NewSignature(types.NewDescriptor(types.Int64), types.NewDescriptor(types.Int64))
	require.NoError(t, ctx.RegisterFunction("go", "identity", nil, sig, registry.FlagNone))

	msg := protocol.Message{Version: protocol.CurrentVersion, CommandID: CommandGetInfo}
	resp, err := reg.Execute(context.Background(), msg, protocol.StateIdle, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Status)

	var info wireInfo
	require.NoError(t, json.Unmarshal(resp.Result, &info))
	assert.Equal(t, 1, info.LanguageCount)
	assert.Equal(t, 1, info.FunctionCount)
}

func TestCallHandlerInvokesRegisteredFunction(t *testing.T) {
	reg := protocol.NewHandlerRegistry()
	ctx := newTestContext(t)
	require.NoError(t, Register(reg, ctx))

	br := bridgetest.New("go")
	br.Register("double", func(args []*types.Value) (*types.Value, error) {
		n, _ := args[0].AsInt()
		return types.NewInt(types.Int64, n*2), nil
	})
	require.NoError(t, ctx.RegisterBridge(context.Background(), br))
	sig := types.NewSignature(types.NewDescriptor(types.Int64), types.NewDescriptor(types.Int64))
	require.NoError(t, ctx.RegisterFunction("go", "double", nil, sig, registry.FlagNone))

	argBytes, err := typemap.Serialize(types.NewInt(types.Int64, 21))
	require.NoError(t, err)

	msg := protocol.Message{
		Version:   protocol.CurrentVersion,
		CommandID: CommandCall,
		Params: []protocol.Param{
			{Data: serializeString(t, "go")},
			{Data: serializeString(t, "double")},
			{Data: argBytes},
		},
	}

	resp, err := reg.Execute(context.Background(), msg, protocol.StateActive, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Status)

	result, _, err := typemap.Deserialize(resp.Result)
	require.NoError(t, err)
	n, ok := result.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)
}

func TestCallHandlerRejectedOutsideActiveState(t *testing.T) {
	reg := protocol.NewHandlerRegistry()
	ctx := newTestContext(t)
	require.NoError(t, Register(reg, ctx))

	msg := protocol.Message{
		Version:   protocol.CurrentVersion,
		CommandID: CommandCall,
		Params: []protocol.Param{
			{Data: serializeString(t, "go")},
			{Data: serializeString(t, "double")},
		},
	}

	_, err := reg.Execute(context.Background(), msg, protocol.StateIdle, 0)
	assert.Error(t, err)
}
