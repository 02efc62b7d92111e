package polycall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libpolycall/polycall-go/internal/bridge/bridgetest"
	"github.com/libpolycall/polycall-go/internal/config"
	"github.com/libpolycall/polycall-go/internal/dispatch"
	"github.com/libpolycall/polycall-go/internal/eventbus"
	"github.com/libpolycall/polycall-go/internal/registry"
	"github.com/libpolycall/polycall-go/internal/security"
	"github.com/libpolycall/polycall-go/internal/types"
)

func TestCreateContextWithoutCachedFlagLeavesCachesNil(t *testing.T) {
	ctx, err := CreateContext(FlagNone)
	require.NoError(t, err)
	defer DestroyContext(ctx)

	assert.Nil(t, ctx.CallCache)
	assert.Nil(t, ctx.TypeCache)
}

func TestCreateContextWithCachedFlagBuildsCaches(t *testing.T) {
	ctx, err := CreateContext(FlagCached)
	require.NoError(t, err)
	defer DestroyContext(ctx)

	assert.NotNil(t, ctx.CallCache)
	assert.NotNil(t, ctx.TypeCache)
}

func TestDestroyContextIsIdempotent(t *testing.T) {
	ctx, err := CreateContext(FlagNone)
	require.NoError(t, err)

	DestroyContext(ctx)
	DestroyContext(ctx)

	require.Error(t, ctx.checkAlive())
}

func TestOperationsFailAfterDestroy(t *testing.T) {
	ctx, err := CreateContext(FlagNone)
	require.NoError(t, err)
	DestroyContext(ctx)

	_, err = ctx.GetInfo()
	assert.Error(t, err)

	err = ctx.RegisterFunction("go", "noop", func([]*types.Value) (*types.Value, error) { return types.NewVoid(), nil },
		types.NewSignature(types.NewDescriptor(types.Void)), registry.FlagNone)
	assert.Error(t, err)
}

func TestRegisterAndCallFunctionRoundTrip(t *testing.T) {
	ctx, err := CreateContext(FlagNone)
	require.NoError(t, err)
	defer DestroyContext(ctx)

	br := bridgetest.New("go")
	br.Register("double", func(args []*types.Value) (*types.Value, error) {
		n, _ := args[0].AsInt()
		return types.NewInt(types.Int64, n*2), nil
	})
	require.NoError(t, ctx.RegisterBridge(context.Background(), br))

	sig := types.NewSignature(types.NewDescriptor(types.Int64), types.NewDescriptor(types.Int64))
	require.NoError(t, ctx.RegisterFunction("go", "double", nil, sig, registry.FlagNone))

	result, err := ctx.CallFunction(context.Background(), dispatch.Request{
		Language:      "go",
		Function:      "double",
		Args:          []*types.Value{types.NewInt(types.Int64, 21)},
		EffectiveMask: security.Mask(0),
	})
	require.NoError(t, err)

	n, ok := result.Value.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	info, err := ctx.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, 1, info.LanguageCount)
	assert.Equal(t, 1, info.FunctionCount)
}

func TestCreateValuePerTag(t *testing.T) {
	b := CreateValue(types.Bool)
	bv, ok := b.AsBool()
	require.True(t, ok)
	assert.False(t, bv)

	i := CreateValue(types.Int32)
	iv, ok := i.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(0), iv)

	u := CreateValue(types.UInt16)
	uv, ok := u.AsUint()
	require.True(t, ok)
	assert.Equal(t, uint64(0), uv)

	f := CreateValue(types.Float64)
	fv, ok := f.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 0.0, fv)

	s := CreateValue(types.String)
	sv, ok := s.AsString()
	require.True(t, ok)
	assert.Equal(t, "", sv)
}

func TestSetAndGetValueDataScalar(t *testing.T) {
	v := CreateValue(types.Int64)
	require.NoError(t, SetValueData(v, int64(99)))

	got, err := GetValueData(v)
	require.NoError(t, err)
	assert.Equal(t, int64(99), got)
}

func TestSetValueDataRejectsWrongGoType(t *testing.T) {
	v := CreateValue(types.Bool)
	err := SetValueData(v, "not a bool")
	assert.Error(t, err)
}

func TestSetValueDataRejectsCompositeTag(t *testing.T) {
	v := &types.Value{Tag: types.Array, Descriptor: types.NewDescriptor(types.Array)}
	err := SetValueData(v, []int{1, 2})
	assert.Error(t, err)
}

func TestLoadSaveFileRoundTripsConfig(t *testing.T) {
	ctx, err := CreateContext(FlagNone)
	require.NoError(t, err)
	defer DestroyContext(ctx)

	ctx.Config.SetDefault("pool", "max", config.KindInt, int64(10))
	require.NoError(t, ctx.Config.SetInt("pool", "max", 7))

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, ctx.SaveFile(path))

	ctx2, err := CreateContext(FlagNone)
	require.NoError(t, err)
	defer DestroyContext(ctx2)
	ctx2.Config.SetDefault("pool", "max", config.KindInt, int64(10))
	require.NoError(t, ctx2.LoadFile(path))

	assert.Equal(t, int64(7), ctx2.Config.GetInt("pool", "max", 0))
}

func TestGetVersionFormatsLibraryVersion(t *testing.T) {
	assert.Contains(t, GetVersion(), Version)
}

func TestCallFunctionAsyncRejectedWithoutFlagAsync(t *testing.T) {
	ctx, err := CreateContext(FlagNone)
	require.NoError(t, err)
	defer DestroyContext(ctx)

	err = ctx.CallFunctionAsync(context.Background(), dispatch.Request{Language: "go", Function: "double"})
	assert.Error(t, err)
}

func TestCallFunctionAsyncPublishesCallCompleted(t *testing.T) {
	ctx, err := CreateContext(FlagAsync)
	require.NoError(t, err)
	defer DestroyContext(ctx)

	br := bridgetest.New("go")
	br.Register("double", func(args []*types.Value) (*types.Value, error) {
		n, _ := args[0].AsInt()
		return types.NewInt(types.Int64, n*2), nil
	})
	require.NoError(t, ctx.RegisterBridge(context.Background(), br))
	sig := types.NewSignature(types.NewDescriptor(types.Int64), types.NewDescriptor(types.Int64))
	require.NoError(t, ctx.RegisterFunction("go", "double", nil, sig, registry.FlagNone))

	done := make(chan eventbus.CallCompleted, 1)
	unsubscribe, err := ctx.SubscribeEvents("CallCompleted", func(c context.Context, ev eventbus.Event) {
		done <- ev.(eventbus.CallCompleted)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, ctx.CallFunctionAsync(context.Background(), dispatch.Request{
		Language: "go",
		Function: "double",
		Args:     []*types.Value{types.NewInt(types.Int64, 21)},
	}))

	select {
	case ev := <-done:
		assert.Equal(t, "go", ev.Language)
		assert.Equal(t, "double", ev.Function)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CallCompleted event")
	}
}

func TestQueryTracesReturnsRecordedDispatch(t *testing.T) {
	ctx, err := CreateContext(FlagNone)
	require.NoError(t, err)
	defer DestroyContext(ctx)

	br := bridgetest.New("go")
	br.Register("double", func(args []*types.Value) (*types.Value, error) {
		n, _ := args[0].AsInt()
		return types.NewInt(types.Int64, n*2), nil
	})
	require.NoError(t, ctx.RegisterBridge(context.Background(), br))
	sig := types.NewSignature(types.NewDescriptor(types.Int64), types.NewDescriptor(types.Int64))
	require.NoError(t, ctx.RegisterFunction("go", "double", nil, sig, registry.FlagNone))

	_, err = ctx.CallFunction(context.Background(), dispatch.Request{
		Language: "go",
		Function: "double",
		Args:     []*types.Value{types.NewInt(types.Int64, 21)},
	})
	require.NoError(t, err)

	traces, err := ctx.QueryTraces("double", "go")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "double", traces[0].FunctionName)
}

func TestRegisterBridgePublishesBridgeRegistered(t *testing.T) {
	ctx, err := CreateContext(FlagNone)
	require.NoError(t, err)
	defer DestroyContext(ctx)

	received := make(chan eventbus.BridgeRegistered, 1)
	_, err = ctx.SubscribeEvents("BridgeRegistered", func(c context.Context, ev eventbus.Event) {
		received <- ev.(eventbus.BridgeRegistered)
	})
	require.NoError(t, err)

	br := bridgetest.New("go")
	require.NoError(t, ctx.RegisterBridge(context.Background(), br))

	select {
	case ev := <-received:
		assert.Equal(t, "go", ev.Language)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for BridgeRegistered event")
	}
}
