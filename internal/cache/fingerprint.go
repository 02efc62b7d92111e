package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/libpolycall/polycall-go/internal/types"
)

// Fingerprint builds the deterministic cache key for a call-result
// lookup: a hash of (language, function name, each argument's type tag
// and byte representation), matching spec 4.8's "fingerprint is a
// deterministic hash of (name, arg types, arg bytes)."
func Fingerprint(language, name string, args []*types.Value) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(name))
	for _, a := range args {
		h.Write([]byte{0, byte(a.Tag)})
		h.Write(a.Bytes())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ConversionKey builds the cache key for a memoized type conversion,
// keyed on the same (language pair, tag pair, value bytes) tuple the
// type mapper uses to select a rule.
func ConversionKey(srcLang string, dstLang string, dstTag types.Tag, v *types.Value) string {
	h := sha256.New()
	h.Write([]byte(srcLang))
	h.Write([]byte{0})
	h.Write([]byte(dstLang))
	h.Write([]byte{0, byte(v.Tag), 0, byte(dstTag)})
	h.Write(v.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}
