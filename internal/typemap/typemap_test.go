package typemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/types"
)

func TestBuiltinIntegerWidening(t *testing.T) {
	m := New()
	v := types.NewInt(types.Int32, 42)
	got, err := m.Convert(v, "py", "node", types.Int64, FlagNone)
	require.NoError(t, err)
	n, ok := got.AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 42, n)
}

func TestBuiltinNarrowingOverflowFails(t *testing.T) {
	m := New()
	v := types.NewInt(types.Int64, 1<<40)
	_, err := m.Convert(v, "py", "node", types.Int32, FlagNone)
	require.Error(t, err)
	assert.Equal(t, perr.Overflow, perr.CodeOf(err))
}

func TestFloatToIntTruncatesTowardZero(t *testing.T) {
	m := New()
	v := types.NewFloat(types.Float64, -3.9)
	got, err := m.Convert(v, "py", "node", types.Int32, FlagNone)
	require.NoError(t, err)
	n, _ := got.AsInt()
	assert.EqualValues(t, -3, n)
}

func TestUserOverrideBeatsBuiltin(t *testing.T) {
	m := New()
	m.Register("py", types.Int32, "node", types.Int32, func(v *types.Value) (*types.Value, int, error) {
		n, _ := v.AsInt()
		return types.NewInt(types.Int32, n+1000), 0, nil
	}, nil, FlagOverride)

	v := types.NewInt(types.Int32, 1)
	got, err := m.Convert(v, "py", "node", types.Int32, FlagNone)
	require.NoError(t, err)
	n, _ := got.AsInt()
	assert.EqualValues(t, 1001, n)
}

func TestNoRuleReturnsInvalidType(t *testing.T) {
	m := New()
	v := types.NewUser("handle", nil, nil)
	_, err := m.Convert(v, "py", "node", types.Int32, FlagNone)
	require.Error(t, err)
	assert.Equal(t, perr.InvalidType, perr.CodeOf(err))
}

func TestWireRoundTripScalars(t *testing.T) {
	values := []*types.Value{
		types.NewInt(types.Int32, -7),
		types.NewUint(types.UInt64, 12345),
		types.NewFloat(types.Float64, 3.14159),
		types.NewBool(true),
		types.NewString("hello world", true),
		types.NewChar('Z'),
	}
	for _, v := range values {
		buf, err := Serialize(v)
		require.NoError(t, err)
		got, n, err := Deserialize(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, v.Bytes(), got.Bytes())
	}
}

func TestWireRoundTripArrayAndStruct(t *testing.T) {
	arr := types.NewArray(types.NewDescriptor(types.Int32), []*types.Value{
		types.NewInt(types.Int32, 1),
		types.NewInt(types.Int32, 2),
		types.NewInt(types.Int32, 3),
	})
	buf, err := Serialize(arr)
	require.NoError(t, err)
	got, n, err := Deserialize(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	elems, ok := got.AsArray()
	require.True(t, ok)
	require.Len(t, elems, 3)

	s := types.NewStruct("point", []types.StructField{
		{Name: "x", Value: types.NewInt(types.Int32, 10)},
		{Name: "y", Value: types.NewInt(types.Int32, 20)},
	})
	sbuf, err := Serialize(s)
	require.NoError(t, err)
	sgot, sn, err := Deserialize(sbuf)
	require.NoError(t, err)
	assert.Equal(t, len(sbuf), sn)
	fields, ok := sgot.AsStruct()
	require.True(t, ok)
	require.Len(t, fields, 2)
	assert.Equal(t, "x", fields[0].Name)
}

func TestDeserializeRejectsTruncatedBuffer(t *testing.T) {
	_, _, err := Deserialize([]byte{byte(types.Int32), 0, 0, 0, 8, 1, 2})
	require.Error(t, err)
	assert.Equal(t, perr.InvalidArgument, perr.CodeOf(err))
}
