package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorSizeAndAlignment(t *testing.T) {
	cases := []struct {
		tag       Tag
		wantSize  int
		wantAlign int
	}{
		{Void, 0, 1},
		{Bool, 1, 1},
		{Int8, 1, 1},
		{Int16, 2, 2},
		{Int32, 4, 4},
		{Int64, 8, 8},
		{Float64, 8, 8},
		{String, 0, 1},
	}
	for _, c := range cases {
		d := NewDescriptor(c.tag)
		assert.Equal(t, c.wantSize, d.SizeBytes, c.tag.String())
		assert.Equal(t, c.wantAlign, d.Alignment, c.tag.String())
	}
}

func TestArrayDescriptorUnknownCountIsSizeZero(t *testing.T) {
	elem := NewDescriptor(Int32)
	d := NewArrayDescriptor(elem, 0)
	assert.Equal(t, 0, d.SizeBytes)

	sized := NewArrayDescriptor(elem, 4)
	assert.Equal(t, 16, sized.SizeBytes)
}

func TestStructDescriptorOffsetsRespectAlignment(t *testing.T) {
	d := NewStructDescriptor("point3", []string{"x", "y", "flag"},
		[]*Descriptor{NewDescriptor(Int32), NewDescriptor(Int32), NewDescriptor(Bool)})

	require.NotNil(t, d.StructInfo)
	assert.Equal(t, []int{0, 4, 8}, d.StructInfo.FieldOffsets)
	assert.Equal(t, 3, d.StructInfo.FieldCount())
}

func TestCompatible(t *testing.T) {
	i32 := NewDescriptor(Int32)
	i64 := NewDescriptor(Int64)
	u32 := NewDescriptor(UInt32)
	ptrA := NewDescriptor(Pointer)
	userB := NewUserDescriptor("handle", nil)
	str := NewDescriptor(String)

	assert.True(t, Compatible(i32, i32), "identical")
	assert.True(t, Compatible(i32, i64), "widening same signedness")
	assert.False(t, Compatible(i64, i32), "narrowing rejected")
	assert.False(t, Compatible(i32, u32), "cross-signedness rejected")
	assert.True(t, Compatible(ptrA, userB), "pointer/opaque interchangeable")
	assert.False(t, Compatible(str, i32), "unrelated tags rejected")
}

func TestNewIntPanicsOnUnsignedTag(t *testing.T) {
	assert.Panics(t, func() { NewInt(UInt32, 1) })
}
