// Package types implements the canonical value and type-descriptor
// model shared by every other LibPolyCall component (spec component
// C1). It plays the role coreengine/envelope plays for the teacher
// repo: the source-of-truth representation that everything else is a
// thin wrapper around.
package types

// Tag identifies the base shape of a Value or Descriptor. It is the
// union of every variant referenced across the source material
// (spec section 9's open question about the duplicated type enum is
// resolved here by taking the union once, in one place).
type Tag uint8

const (
	Void Tag = iota
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Float32
	Float64
	Bool
	Char
	String
	Pointer
	Array
	Struct
	Function
	Object
	UserType
)

func (t Tag) String() string {
	switch t {
	case Void:
		return "void"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case UInt8:
		return "uint8"
	case UInt16:
		return "uint16"
	case UInt32:
		return "uint32"
	case UInt64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case Char:
		return "char"
	case String:
		return "string"
	case Pointer:
		return "pointer"
	case Array:
		return "array"
	case Struct:
		return "struct"
	case Function:
		return "function"
	case Object:
		return "object"
	case UserType:
		return "user"
	default:
		return "unknown"
	}
}

// IsInteger reports whether the tag is one of the signed or unsigned
// integer variants.
func (t Tag) IsInteger() bool {
	switch t {
	case Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64:
		return true
	default:
		return false
	}
}

// IsUnsigned reports whether the tag is an unsigned integer variant.
func (t Tag) IsUnsigned() bool {
	switch t {
	case UInt8, UInt16, UInt32, UInt64:
		return true
	default:
		return false
	}
}

// IsFloat reports whether the tag is a floating-point variant.
func (t Tag) IsFloat() bool {
	return t == Float32 || t == Float64
}

// IsNumeric reports whether the tag is integer or floating point.
func (t Tag) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

// IsVariableSize reports whether values of this tag have no fixed
// byte size (string, user, and arrays/structs whose size depends on
// their contents).
func (t Tag) IsVariableSize() bool {
	switch t {
	case String, Array, Struct, UserType:
		return true
	default:
		return false
	}
}

// integerWidth returns the bit width of an integer tag, or 0 if t is
// not an integer tag.
func integerWidth(t Tag) int {
	switch t {
	case Int8, UInt8:
		return 8
	case Int16, UInt16:
		return 16
	case Int32, UInt32:
		return 32
	case Int64, UInt64:
		return 64
	default:
		return 0
	}
}
