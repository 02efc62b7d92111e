package types

// Descriptor is the canonical, language-neutral description of a
// value's shape: base tag, size, alignment, an optional human name,
// and variant-specific data for composite tags.
//
// Invariant: a Descriptor's SizeBytes/Alignment must match the actual
// memory layout used when a bridge converts a Value to/from its host
// representation. Construction is total; the only way to violate the
// invariant is to hand-build a Descriptor outside the constructors
// below, which the package discourages by keeping the fields
// exported-but-documented rather than hidden (tests need to build
// fixtures directly).
type Descriptor struct {
	Tag        Tag
	SizeBytes  int
	Alignment  int
	Name       string
	ArrayInfo  *ArrayDescriptor
	StructInfo *StructDescriptor
	FuncInfo   *FunctionDescriptor
	UserInfo   *UserDescriptor
}

// ArrayDescriptor is the variant-specific data for Tag == Array.
type ArrayDescriptor struct {
	Element     *Descriptor
	Count       int // 0 means unknown/variable count
	ElementSize int
}

// StructDescriptor is the variant-specific data for Tag == Struct.
// Fields are ordered; FieldOffsets[i] is the byte offset of
// FieldNames[i] within the struct's layout.
type StructDescriptor struct {
	FieldNames   []string
	FieldTypes   []*Descriptor
	FieldOffsets []int
}

// FieldCount returns the number of fields in the struct.
func (s *StructDescriptor) FieldCount() int {
	return len(s.FieldNames)
}

// FunctionDescriptor is the variant-specific data for Tag == Function.
type FunctionDescriptor struct {
	Signature *Signature
}

// UserDescriptor is the variant-specific data for Tag == UserType.
type UserDescriptor struct {
	TypeID     string
	Payload    any
	Destructor func(any)
}

// baseSize returns the natural byte size for a scalar tag, or 0 for
// tags whose size depends on the described value (spec: "size returns
// 0 for variable-size types").
func baseSize(t Tag) int {
	switch t {
	case Void:
		return 0
	case Int8, UInt8, Bool, Char:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64, Pointer:
		return 8
	default:
		return 0
	}
}

func baseAlignment(t Tag) int {
	size := baseSize(t)
	if size == 0 {
		return 1
	}
	return size
}

// NewDescriptor builds a Descriptor for a scalar tag. Construction is
// total: it always succeeds for tags that carry no variant-specific
// data. Composite tags should use NewArrayDescriptor/
// NewStructDescriptor/NewFunctionDescriptor/NewUserDescriptor instead.
func NewDescriptor(tag Tag) *Descriptor {
	return &Descriptor{
		Tag:       tag,
		SizeBytes: baseSize(tag),
		Alignment: baseAlignment(tag),
	}
}

// NewNamedDescriptor builds a scalar descriptor carrying a human name
// (used for user-facing diagnostics and registry introspection).
func NewNamedDescriptor(tag Tag, name string) *Descriptor {
	d := NewDescriptor(tag)
	d.Name = name
	return d
}

// NewArrayDescriptor builds a descriptor for an array of count
// elements of the given element type. count == 0 denotes an
// unknown/variable-length array, which is size-0 per spec.
func NewArrayDescriptor(element *Descriptor, count int) *Descriptor {
	elemSize := 0
	if element != nil {
		elemSize = element.SizeBytes
	}
	d := &Descriptor{
		Tag:       Array,
		Alignment: maxInt(1, elemSize),
		ArrayInfo: &ArrayDescriptor{Element: element, Count: count, ElementSize: elemSize},
	}
	if count > 0 && elemSize > 0 {
		d.SizeBytes = count * elemSize
	}
	return d
}

// NewStructDescriptor builds a descriptor for an ordered struct of
// named, typed fields, computing byte offsets by packing fields in
// declaration order honoring each field's alignment.
func NewStructDescriptor(name string, fieldNames []string, fieldTypes []*Descriptor) *Descriptor {
	offsets := make([]int, len(fieldTypes))
	offset := 0
	maxAlign := 1
	for i, ft := range fieldTypes {
		align := 1
		size := 0
		if ft != nil {
			align = maxInt(1, ft.Alignment)
			size = ft.SizeBytes
		}
		offset = alignUp(offset, align)
		offsets[i] = offset
		offset += size
		if align > maxAlign {
			maxAlign = align
		}
	}
	return &Descriptor{
		Tag:       Struct,
		Name:      name,
		SizeBytes: alignUp(offset, maxAlign),
		Alignment: maxAlign,
		StructInfo: &StructDescriptor{
			FieldNames:   append([]string(nil), fieldNames...),
			FieldTypes:   append([]*Descriptor(nil), fieldTypes...),
			FieldOffsets: offsets,
		},
	}
}

// NewFunctionDescriptor builds a descriptor for a callback/function
// value carrying the given signature.
func NewFunctionDescriptor(sig *Signature) *Descriptor {
	return &Descriptor{
		Tag:       Function,
		SizeBytes: baseSize(Pointer),
		Alignment: baseAlignment(Pointer),
		FuncInfo:  &FunctionDescriptor{Signature: sig},
	}
}

// NewUserDescriptor builds a descriptor for an opaque, user-defined
// type identified by typeID. Size is 0 (variable/opaque) per spec.
func NewUserDescriptor(typeID string, destructor func(any)) *Descriptor {
	return &Descriptor{
		Tag:      UserType,
		UserInfo: &UserDescriptor{TypeID: typeID, Destructor: destructor},
	}
}

func alignUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Compatible reports whether a value described by src can be used
// where dst is declared, per spec 4.1:
//   - identical tags are always compatible
//   - numeric widening within the same signedness (and float
//     widening) is compatible
//   - pointer/opaque vs pointer/opaque is always compatible
//   - everything else is incompatible
func Compatible(src, dst *Descriptor) bool {
	if src == nil || dst == nil {
		return false
	}
	if src.Tag == dst.Tag {
		return true
	}
	if (src.Tag == Pointer || src.Tag == UserType) && (dst.Tag == Pointer || dst.Tag == UserType) {
		return true
	}
	if src.Tag.IsInteger() && dst.Tag.IsInteger() && src.Tag.IsUnsigned() == dst.Tag.IsUnsigned() {
		return integerWidth(src.Tag) <= integerWidth(dst.Tag)
	}
	if src.Tag.IsFloat() && dst.Tag.IsFloat() {
		return src.Tag == Float32 && dst.Tag == Float64
	}
	if src.Tag.IsInteger() && dst.Tag.IsFloat() {
		// Widening an integer into a float parameter is allowed; the
		// mapper (C2) is responsible for the actual conversion and
		// precision rules.
		return true
	}
	return false
}
