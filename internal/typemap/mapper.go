// Package typemap implements the Type Mapper (spec component C2):
// registered conversion rules between (language, type) pairs, with
// validation and a length-prefixed, type-tagged wire serialization
// used by the Command Protocol (C10).
//
// Grounded on coreengine/typeutil.Safe* for the comma-ok coercion
// style, generalized from a fixed set of Go `any` assertions into a
// registered rule table keyed by source/destination language+tag.
package typemap

import (
	"sync"

	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/types"
)

// Flags are recorded on a registered rule. Of them only FlagOverride
// changes what Convert does (it takes part in choosing among rules that
// share a key); Convert does not consult its own flags argument, and
// FlagStrict, FlagLenient, FlagCopy, FlagNullable and FlagRecursive do
// not change how a value is converted.
type Flags uint32

const (
	FlagNone   Flags = 0
	FlagStrict Flags = 1 << iota
	FlagLenient
	// FlagOverride gives a rule precedence in pickRule over rules
	// without it for the same (srcLang, srcTag, dstLang, dstTag) key.
	FlagOverride
	FlagCopy
	FlagNullable
	FlagRecursive
)

func (f Flags) has(o Flags) bool { return f&o == o }

// Converter performs one (src language/type) -> (dst language/type)
// conversion. It returns the converted value, or the number of bytes
// the destination slot would need if size is the failure reason
// (mirrors the "converter... may indicate required buffer size"
// contract from spec 4.2).
type Converter func(src *types.Value) (dst *types.Value, requiredSize int, err error)

// Validator optionally overrides the default range/alignment checks
// a rule otherwise inherits.
type Validator func(v *types.Value) error

type ruleKey struct {
	srcLang string
	srcTag  types.Tag
	dstLang string
	dstTag  types.Tag
}

type rule struct {
	key       ruleKey
	converter Converter
	validator Validator
	flags     Flags
	builtin   bool
}

// Mapper holds the registered conversion rule table plus the built-in
// numeric/string conversions spec 4.2 mandates unconditionally.
type Mapper struct {
	mu    sync.RWMutex
	rules map[ruleKey][]*rule
}

// New creates a Mapper pre-seeded with the built-in numeric and
// string conversion rules.
func New() *Mapper {
	m := &Mapper{rules: make(map[ruleKey][]*rule)}
	m.registerBuiltins()
	return m
}

// Register adds a user conversion rule. Multiple rules may share a
// key; Convert resolves ties per spec 4.2 (exact match over widening;
// override flag required to beat a built-in).
func (m *Mapper) Register(srcLang string, srcTag types.Tag, dstLang string, dstTag types.Tag, conv Converter, validator Validator, flags Flags) {
	k := ruleKey{srcLang, srcTag, dstLang, dstTag}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[k] = append(m.rules[k], &rule{key: k, converter: conv, validator: validator, flags: flags})
}

// Convert converts src (declared to be of srcLang) into a Value
// suitable for dstLang, following the tie-break rule: the most
// specific, most-recently-registered-with-override rule wins.
func (m *Mapper) Convert(src *types.Value, srcLang, dstLang string, dstTag types.Tag, flags Flags) (*types.Value, error) {
	if src == nil {
		return nil, perr.New(perr.InvalidArgument, "nil source value")
	}
	candidates := m.lookupWithFallback(srcLang, src.Tag, dstLang, dstTag)

	r := pickRule(candidates)
	if r == nil {
		return nil, perr.Newf(perr.InvalidType, "no conversion rule for %s/%s -> %s/%s", srcLang, src.Tag, dstLang, dstTag)
	}

	dst, _, err := r.converter(src)
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// pickRule applies the tie-break policy from spec 4.2: a
// user-registered override rule beats a built-in; otherwise the last
// registered non-override rule wins (most specific registration).
func pickRule(candidates []*rule) *rule {
	var winner *rule
	for _, c := range candidates {
		switch {
		case winner == nil:
			winner = c
		case c.flags.has(FlagOverride) && !winner.flags.has(FlagOverride):
			winner = c
		case !c.builtin && winner.builtin && !winner.flags.has(FlagOverride):
			winner = c
		}
	}
	return winner
}

// Validate runs a rule's validator if one is registered for the
// value's own (language, tag) as both source and destination;
// otherwise it enforces the default numeric range/alignment check.
func (m *Mapper) Validate(v *types.Value, language string) error {
	if v == nil {
		return perr.New(perr.InvalidArgument, "nil value")
	}
	k := ruleKey{language, v.Tag, language, v.Tag}
	m.mu.RLock()
	candidates := append([]*rule(nil), m.rules[k]...)
	m.mu.RUnlock()

	for _, c := range candidates {
		if c.validator != nil {
			return c.validator(v)
		}
	}
	return defaultValidate(v)
}

func defaultValidate(v *types.Value) error {
	if v.Descriptor == nil {
		return perr.New(perr.InvalidType, "value has no descriptor")
	}
	if n, ok := v.AsInt(); ok {
		if min, max := signedRange(v.Tag); n < min || n > max {
			return perr.Newf(perr.Overflow, "%d is out of range for %s", n, v.Tag)
		}
	}
	if u, ok := v.AsUint(); ok && u > unsignedMax(v.Tag) {
		return perr.Newf(perr.Overflow, "%d is out of range for %s", u, v.Tag)
	}
	if v.Tag.IsNumeric() && v.Descriptor.Alignment != types.NewDescriptor(v.Tag).Alignment {
		return perr.Newf(perr.InvalidType, "%s descriptor has alignment %d", v.Tag, v.Descriptor.Alignment)
	}
	return nil
}
