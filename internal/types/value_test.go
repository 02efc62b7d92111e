package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTripScalars(t *testing.T) {
	v := NewInt(Int32, 42)
	got, ok := v.AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 42, got)

	s := NewString("hello", true)
	str, ok := s.AsString()
	require.True(t, ok)
	assert.Equal(t, "hello", str)
	assert.True(t, s.IsOwnedString())
}

func TestValueCloneIsDeepAndOwned(t *testing.T) {
	inner := NewString("borrowed", false)
	arr := NewArray(NewDescriptor(String), []*Value{inner})

	clone := arr.Clone()
	elems, ok := clone.AsArray()
	require.True(t, ok)
	require.Len(t, elems, 1)
	assert.True(t, elems[0].IsOwnedString())

	// mutating the original doesn't affect the clone
	origElems, _ := arr.AsArray()
	origElems[0] = NewString("changed", false)
	cloneElems, _ := clone.AsArray()
	cloneStr, _ := cloneElems[0].AsString()
	assert.Equal(t, "borrowed", cloneStr)
}

func TestValueBytesDeterministic(t *testing.T) {
	a := NewInt(Int32, 7)
	b := NewInt(Int32, 7)
	c := NewInt(Int32, 8)

	assert.Equal(t, a.Bytes(), b.Bytes())
	assert.NotEqual(t, a.Bytes(), c.Bytes())
}

func TestStructValueBytesIncludesFieldNames(t *testing.T) {
	s1 := NewStruct("p", []StructField{{Name: "x", Value: NewInt(Int32, 1)}})
	s2 := NewStruct("p", []StructField{{Name: "y", Value: NewInt(Int32, 1)}})
	assert.NotEqual(t, s1.Bytes(), s2.Bytes())
}
