package typemap

import (
	"math"
	"strconv"

	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/types"
)

// anyLang matches a rule regardless of which languages are involved;
// built-ins are language-agnostic (they only depend on the type
// tags), so they're registered once per tag pair under anyLang and
// Convert/Validate look them up with the language-agnostic key too
// when no language-specific rule exists.
const anyLang = ""

// registerBuiltins installs these conversions: every integer tag to
// every integer tag (narrowing overflow fails), to Float32, Float64 and
// String; Float32 and Float64 to every integer tag (truncation toward
// zero), to Float64 and to String; String to String; Bool to Bool and
// to String. There is no built-in from a float to Float32, none from
// String to a number or Bool, and none for Char.
func (m *Mapper) registerBuiltins() {
	integerTags := []types.Tag{types.Int8, types.Int16, types.Int32, types.Int64, types.UInt8, types.UInt16, types.UInt32, types.UInt64}
	for _, src := range integerTags {
		for _, dst := range integerTags {
			m.registerBuiltin(src, dst, integerConverter(src, dst))
		}
		m.registerBuiltin(src, types.Float32, intToFloatConverter(types.Float32))
		m.registerBuiltin(src, types.Float64, intToFloatConverter(types.Float64))
		m.registerBuiltin(src, types.String, intToStringConverter())
	}

	for _, src := range []types.Tag{types.Float32, types.Float64} {
		for _, dst := range integerTags {
			m.registerBuiltin(src, dst, floatToIntConverter(dst))
		}
		m.registerBuiltin(src, types.Float64, floatWidenConverter())
		m.registerBuiltin(src, types.String, floatToStringConverter())
	}

	m.registerBuiltin(types.String, types.String, identityStringConverter())
	m.registerBuiltin(types.Bool, types.Bool, identityBoolConverter())
	m.registerBuiltin(types.Bool, types.String, boolToStringConverter())
}

func (m *Mapper) registerBuiltin(srcTag, dstTag types.Tag, conv Converter) {
	k := ruleKey{anyLang, srcTag, anyLang, dstTag}
	m.rules[k] = append(m.rules[k], &rule{key: k, converter: conv, builtin: true})
}

// Convert falls back to the language-agnostic built-in key when no
// rule is registered for the specific (srcLang, dstLang) pair.
func (m *Mapper) lookupWithFallback(srcLang string, srcTag types.Tag, dstLang string, dstTag types.Tag) []*rule {
	k := ruleKey{srcLang, srcTag, dstLang, dstTag}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rs, ok := m.rules[k]; ok && len(rs) > 0 {
		return append([]*rule(nil), rs...)
	}
	return append([]*rule(nil), m.rules[ruleKey{anyLang, srcTag, anyLang, dstTag}]...)
}

func signedRange(tag types.Tag) (min, max int64) {
	switch tag {
	case types.Int8:
		return math.MinInt8, math.MaxInt8
	case types.Int16:
		return math.MinInt16, math.MaxInt16
	case types.Int32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

func unsignedMax(tag types.Tag) uint64 {
	switch tag {
	case types.UInt8:
		return math.MaxUint8
	case types.UInt16:
		return math.MaxUint16
	case types.UInt32:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

func integerConverter(src, dst types.Tag) Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		if dst.IsUnsigned() {
			var u uint64
			if src.IsUnsigned() {
				raw, ok := v.AsUint()
				if !ok {
					return nil, 0, perr.New(perr.ConversionFailed, "expected unsigned integer value")
				}
				u = raw
			} else {
				raw, ok := v.AsInt()
				if !ok {
					return nil, 0, perr.New(perr.ConversionFailed, "expected integer value")
				}
				if raw < 0 {
					return nil, 0, perr.Newf(perr.Overflow, "cannot convert negative %d to %s", raw, dst)
				}
				u = uint64(raw)
			}
			if u > unsignedMax(dst) {
				return nil, 0, perr.Newf(perr.Overflow, "%d overflows %s", u, dst)
			}
			return types.NewUint(dst, u), 0, nil
		}

		var s int64
		if src.IsUnsigned() {
			raw, ok := v.AsUint()
			if !ok {
				return nil, 0, perr.New(perr.ConversionFailed, "expected unsigned integer value")
			}
			if raw > math.MaxInt64 {
				return nil, 0, perr.Newf(perr.Overflow, "%d overflows %s", raw, dst)
			}
			s = int64(raw)
		} else {
			raw, ok := v.AsInt()
			if !ok {
				return nil, 0, perr.New(perr.ConversionFailed, "expected integer value")
			}
			s = raw
		}
		min, max := signedRange(dst)
		if s < min || s > max {
			return nil, 0, perr.Newf(perr.Overflow, "%d overflows %s", s, dst)
		}
		return types.NewInt(dst, s), 0, nil
	}
}

func intToFloatConverter(dst types.Tag) Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		if v.Tag.IsUnsigned() {
			u, ok := v.AsUint()
			if !ok {
				return nil, 0, perr.New(perr.ConversionFailed, "expected unsigned integer value")
			}
			return types.NewFloat(dst, float64(u)), 0, nil
		}
		s, ok := v.AsInt()
		if !ok {
			return nil, 0, perr.New(perr.ConversionFailed, "expected integer value")
		}
		return types.NewFloat(dst, float64(s)), 0, nil
	}
}

// floatToIntConverter truncates toward zero, per spec's documented
// precision rule, and fails with OVERFLOW if the truncated value
// doesn't fit the destination width.
func floatToIntConverter(dst types.Tag) Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		f, ok := v.AsFloat()
		if !ok {
			return nil, 0, perr.New(perr.ConversionFailed, "expected float value")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, 0, perr.Newf(perr.ConversionFailed, "cannot convert %v to %s", f, dst)
		}
		truncated := math.Trunc(f)
		if dst.IsUnsigned() {
			if truncated < 0 || truncated > float64(unsignedMax(dst)) {
				return nil, 0, perr.Newf(perr.Overflow, "%v overflows %s", f, dst)
			}
			return types.NewUint(dst, uint64(truncated)), 0, nil
		}
		min, max := signedRange(dst)
		if truncated < float64(min) || truncated > float64(max) {
			return nil, 0, perr.Newf(perr.Overflow, "%v overflows %s", f, dst)
		}
		return types.NewInt(dst, int64(truncated)), 0, nil
	}
}

func floatWidenConverter() Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		f, ok := v.AsFloat()
		if !ok {
			return nil, 0, perr.New(perr.ConversionFailed, "expected float value")
		}
		return types.NewFloat(types.Float64, f), 0, nil
	}
}

func intToStringConverter() Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		if v.Tag.IsUnsigned() {
			u, _ := v.AsUint()
			return types.NewString(strconv.FormatUint(u, 10), true), 0, nil
		}
		s, _ := v.AsInt()
		return types.NewString(strconv.FormatInt(s, 10), true), 0, nil
	}
}

func floatToStringConverter() Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		f, _ := v.AsFloat()
		return types.NewString(strconv.FormatFloat(f, 'g', -1, 64), true), 0, nil
	}
}

func boolToStringConverter() Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		b, ok := v.AsBool()
		if !ok {
			return nil, 0, perr.New(perr.ConversionFailed, "expected bool value")
		}
		return types.NewString(strconv.FormatBool(b), true), 0, nil
	}
}

func identityStringConverter() Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		s, ok := v.AsString()
		if !ok {
			return nil, 0, perr.New(perr.ConversionFailed, "expected string value")
		}
		return types.NewString(s, true), 0, nil
	}
}

func identityBoolConverter() Converter {
	return func(v *types.Value) (*types.Value, int, error) {
		b, ok := v.AsBool()
		if !ok {
			return nil, 0, perr.New(perr.ConversionFailed, "expected bool value")
		}
		return types.NewBool(b), 0, nil
	}
}
