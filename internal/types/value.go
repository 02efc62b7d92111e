package types

import (
	"encoding/binary"
	"math"
)

// StructField is one named slot of a Struct-tagged Value.
type StructField struct {
	Name  string
	Value *Value
}

// FunctionValue is the payload of a Function-tagged Value: a
// signature plus the native address the bridge resolved it to.
type FunctionValue struct {
	Signature *Signature
	Address   uintptr
}

// ObjectValue is the payload of an Object-tagged Value: a
// language-specific handle plus the host type name, used when a
// bridge wants to pass one of its own runtime objects through the
// core opaquely.
type ObjectValue struct {
	Handle   any
	TypeName string
}

// UserValue is the payload of a UserType-tagged Value: an opaque,
// core-assigned type id plus the pointer/handle the owning bridge
// understands.
type UserValue struct {
	TypeID  string
	Pointer any
}

// Value is the tagged union described in spec section 3. Every
// variant has its own field rather than a single `any` slot so that
// callers get compile-time checked constructors/getters instead of
// runtime type assertions scattered through the codebase -- the one
// place assertions are still needed (composite/user payloads) mirrors
// the comma-ok discipline of coreengine/typeutil.
type Value struct {
	Tag        Tag
	Descriptor *Descriptor

	boolVal   bool
	intVal    int64
	uintVal   uint64
	floatVal  float64
	charVal   rune
	strVal    string
	strOwned  bool
	ptrVal    uintptr
	arrayVal  []*Value
	structVal []StructField
	funcVal   *FunctionValue
	objVal    *ObjectValue
	userVal   *UserValue
}

// NewVoid returns the single void value.
func NewVoid() *Value {
	return &Value{Tag: Void, Descriptor: NewDescriptor(Void)}
}

// NewBool builds a Bool value.
func NewBool(v bool) *Value {
	return &Value{Tag: Bool, Descriptor: NewDescriptor(Bool), boolVal: v}
}

// NewInt builds a signed-integer value of the given width tag
// (Int8/Int16/Int32/Int64). Passing a non-signed-integer tag panics;
// this is a programmer error, not a runtime data error.
func NewInt(tag Tag, v int64) *Value {
	if !tag.IsInteger() || tag.IsUnsigned() {
		panic("types: NewInt requires a signed integer tag")
	}
	return &Value{Tag: tag, Descriptor: NewDescriptor(tag), intVal: v}
}

// NewUint builds an unsigned-integer value of the given width tag.
func NewUint(tag Tag, v uint64) *Value {
	if !tag.IsInteger() || !tag.IsUnsigned() {
		panic("types: NewUint requires an unsigned integer tag")
	}
	return &Value{Tag: tag, Descriptor: NewDescriptor(tag), uintVal: v}
}

// NewFloat builds a Float32 or Float64 value.
func NewFloat(tag Tag, v float64) *Value {
	if !tag.IsFloat() {
		panic("types: NewFloat requires a float tag")
	}
	return &Value{Tag: tag, Descriptor: NewDescriptor(tag), floatVal: v}
}

// NewChar builds a Char value.
func NewChar(v rune) *Value {
	return &Value{Tag: Char, Descriptor: NewDescriptor(Char), charVal: v}
}

// NewString builds a String value. owned indicates whether the Value
// holds the only reference to the backing bytes (owned) or is
// borrowing bytes whose lifetime is managed elsewhere (borrowed);
// Clone always produces an owned copy.
func NewString(s string, owned bool) *Value {
	d := NewDescriptor(String)
	d.SizeBytes = len(s)
	return &Value{Tag: String, Descriptor: d, strVal: s, strOwned: owned}
}

// NewPointer builds a borrowed opaque-pointer value. The core never
// dereferences ptr; it is an opaque cross-boundary handle.
func NewPointer(ptr uintptr) *Value {
	return &Value{Tag: Pointer, Descriptor: NewDescriptor(Pointer), ptrVal: ptr}
}

// NewArray builds an Array value from element values sharing the
// given element descriptor.
func NewArray(elem *Descriptor, elems []*Value) *Value {
	return &Value{
		Tag:        Array,
		Descriptor: NewArrayDescriptor(elem, len(elems)),
		arrayVal:   append([]*Value(nil), elems...),
	}
}

// NewStruct builds a Struct value from ordered named fields.
func NewStruct(name string, fields []StructField) *Value {
	names := make([]string, len(fields))
	descs := make([]*Descriptor, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		if f.Value != nil {
			descs[i] = f.Value.Descriptor
		}
	}
	return &Value{
		Tag:        Struct,
		Descriptor: NewStructDescriptor(name, names, descs),
		structVal:  append([]StructField(nil), fields...),
	}
}

// NewFunction builds a Function value.
func NewFunction(sig *Signature, address uintptr) *Value {
	return &Value{
		Tag:        Function,
		Descriptor: NewFunctionDescriptor(sig),
		funcVal:    &FunctionValue{Signature: sig, Address: address},
	}
}

// NewObject builds an Object value.
func NewObject(handle any, typeName string) *Value {
	d := NewNamedDescriptor(Object, typeName)
	return &Value{Tag: Object, Descriptor: d, objVal: &ObjectValue{Handle: handle, TypeName: typeName}}
}

// NewUser builds a UserType value.
func NewUser(typeID string, ptr any, destructor func(any)) *Value {
	d := NewUserDescriptor(typeID, destructor)
	return &Value{Tag: UserType, Descriptor: d, userVal: &UserValue{TypeID: typeID, Pointer: ptr}}
}

// --- safe getters, comma-ok style ---------------------------------

func (v *Value) AsBool() (bool, bool) {
	if v == nil || v.Tag != Bool {
		return false, false
	}
	return v.boolVal, true
}

func (v *Value) AsInt() (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Tag {
	case Int8, Int16, Int32, Int64:
		return v.intVal, true
	default:
		return 0, false
	}
}

func (v *Value) AsUint() (uint64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Tag {
	case UInt8, UInt16, UInt32, UInt64:
		return v.uintVal, true
	default:
		return 0, false
	}
}

func (v *Value) AsFloat() (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Tag {
	case Float32, Float64:
		return v.floatVal, true
	default:
		return 0, false
	}
}

func (v *Value) AsChar() (rune, bool) {
	if v == nil || v.Tag != Char {
		return 0, false
	}
	return v.charVal, true
}

func (v *Value) AsString() (string, bool) {
	if v == nil || v.Tag != String {
		return "", false
	}
	return v.strVal, true
}

// IsOwnedString reports whether a String value owns its backing
// bytes, relevant to the bridge memory-acquire/release contract.
func (v *Value) IsOwnedString() bool {
	return v != nil && v.Tag == String && v.strOwned
}

func (v *Value) AsPointer() (uintptr, bool) {
	if v == nil || v.Tag != Pointer {
		return 0, false
	}
	return v.ptrVal, true
}

func (v *Value) AsArray() ([]*Value, bool) {
	if v == nil || v.Tag != Array {
		return nil, false
	}
	return v.arrayVal, true
}

func (v *Value) AsStruct() ([]StructField, bool) {
	if v == nil || v.Tag != Struct {
		return nil, false
	}
	return v.structVal, true
}

func (v *Value) AsFunction() (*FunctionValue, bool) {
	if v == nil || v.Tag != Function {
		return nil, false
	}
	return v.funcVal, true
}

func (v *Value) AsObject() (*ObjectValue, bool) {
	if v == nil || v.Tag != Object {
		return nil, false
	}
	return v.objVal, true
}

func (v *Value) AsUser() (*UserValue, bool) {
	if v == nil || v.Tag != UserType {
		return nil, false
	}
	return v.userVal, true
}

// Clone returns a deep, owned copy of v. Used whenever a value
// crosses an ownership boundary it didn't originate from, most
// notably the cache layer returning a stored result to a caller.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	clone := *v
	if v.Tag == String {
		clone.strOwned = true
	}
	if v.Tag == Array {
		clone.arrayVal = make([]*Value, len(v.arrayVal))
		for i, e := range v.arrayVal {
			clone.arrayVal[i] = e.Clone()
		}
	}
	if v.Tag == Struct {
		clone.structVal = make([]StructField, len(v.structVal))
		for i, f := range v.structVal {
			clone.structVal[i] = StructField{Name: f.Name, Value: f.Value.Clone()}
		}
	}
	return &clone
}

// Bytes produces a deterministic byte representation of v's scalar
// payload, used by the dispatcher to build cache fingerprints
// (spec: "Fingerprint is a deterministic hash of (name, arg types,
// arg bytes)"). Composite values are flattened recursively.
func (v *Value) Bytes() []byte {
	if v == nil {
		return nil
	}
	switch v.Tag {
	case Void:
		return nil
	case Bool:
		if v.boolVal {
			return []byte{1}
		}
		return []byte{0}
	case Int8, Int16, Int32, Int64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v.intVal))
		return buf
	case UInt8, UInt16, UInt32, UInt64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, v.uintVal)
		return buf
	case Float32, Float64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.floatVal))
		return buf
	case Char:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(v.charVal))
		return buf
	case String:
		return []byte(v.strVal)
	case Pointer:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v.ptrVal))
		return buf
	case Array:
		var out []byte
		for _, e := range v.arrayVal {
			out = append(out, e.Bytes()...)
		}
		return out
	case Struct:
		var out []byte
		for _, f := range v.structVal {
			out = append(out, []byte(f.Name)...)
			out = append(out, f.Value.Bytes()...)
		}
		return out
	default:
		return nil
	}
}
