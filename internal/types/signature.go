package types

// Parameter is one ordered, optionally-named, optionally-optional
// parameter of a Signature.
type Parameter struct {
	Name     string
	Type     *Descriptor
	Optional bool
}

// Signature is a function's ordered parameter list, return type, and
// variadic flag. Signatures are immutable once registered: callers
// should treat a *Signature handed to the registry as read-only and
// use Clone to derive a modified copy.
type Signature struct {
	Params   []Parameter
	Return   *Descriptor
	Variadic bool
}

// NewSignature builds a signature from positional parameter
// descriptors (all required, unnamed) and a return type.
func NewSignature(ret *Descriptor, params ...*Descriptor) *Signature {
	ps := make([]Parameter, len(params))
	for i, p := range params {
		ps[i] = Parameter{Type: p}
	}
	return &Signature{Params: ps, Return: ret}
}

// Clone returns a copy with its own Params slice; the parameter and
// return Descriptors are shared with the original, not copied.
func (s *Signature) Clone() *Signature {
	if s == nil {
		return nil
	}
	clone := &Signature{
		Params:   append([]Parameter(nil), s.Params...),
		Return:   s.Return,
		Variadic: s.Variadic,
	}
	return clone
}

// MinArgs returns the minimum number of arguments a call must supply
// (required, non-optional parameters).
func (s *Signature) MinArgs() int {
	n := 0
	for _, p := range s.Params {
		if !p.Optional {
			n++
		}
	}
	return n
}

// ArgCountValid reports whether argc is an acceptable argument count
// for this signature: between MinArgs and len(Params) inclusive, or
// any count >= MinArgs when Variadic.
func (s *Signature) ArgCountValid(argc int) bool {
	min := s.MinArgs()
	if argc < min {
		return false
	}
	if s.Variadic {
		return true
	}
	return argc <= len(s.Params)
}

// ParamAt returns the declared parameter type for argument index i,
// falling back to the last declared parameter's type for variadic
// overflow (the common "all extra args share the trailing type"
// convention); ok is false if i is out of range for a non-variadic
// signature.
func (s *Signature) ParamAt(i int) (*Descriptor, bool) {
	if i < len(s.Params) {
		return s.Params[i].Type, true
	}
	if s.Variadic && len(s.Params) > 0 {
		return s.Params[len(s.Params)-1].Type, true
	}
	return nil, false
}
