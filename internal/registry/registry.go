// Package registry implements the Signature Registry (spec component
// C3): resolution of (language, function name) to a registered
// callable, with duplicate detection and safe concurrent publication.
//
// Modeled directly on coreengine/kernel.ServiceRegistry: an
// RWMutex-guarded map, Clone-on-read entries so callers can't mutate
// shared state, and a small, explicit set of verbs rather than a
// general key/value store.
package registry

import (
	"fmt"
	"sync"

	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/types"
)

// Flags carried on a registry entry, controlling dispatcher behavior.
type Flags uint32

const (
	// FlagNone indicates no special handling.
	FlagNone Flags = 0
	// FlagPure marks the function as side-effect-free, making it
	// eligible for call-result caching (spec 4.7 step 4).
	FlagPure Flags = 1 << iota
	// FlagBatchCapable marks that the bridge can execute this
	// function as part of a grouped batch round-trip.
	FlagBatchCapable
	// FlagSecure requires a validated security scope before dispatch.
	FlagSecure
)

// Has reports whether all bits in other are set in f.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// key uniquely identifies an entry: (language, function name).
type key struct {
	language string
	name     string
}

// Callable is the opaque handle a registry entry wraps. The
// dispatcher never interprets it directly; it is handed back to the
// Bridge that registered it.
type Callable any

// Entry is one (language, name) -> callable registration.
type Entry struct {
	Language       string
	Name           string
	Signature      *types.Signature
	Callable       Callable
	Flags          Flags
	PermissionMask uint32
}

// Clone returns a copy safe for a caller to inspect without racing
// the registry's internal mutation.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Signature = e.Signature.Clone()
	return &clone
}

// Registry resolves (language, name) to a registered Entry. Safe for
// concurrent use; a reader observing an entry always observes its
// fully-populated signature (publication is a single map write under
// the write lock, satisfying spec 5's release/acquire requirement).
type Registry struct {
	mu      sync.RWMutex
	entries map[key]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[key]*Entry)}
}

// Register adds a new entry. Returns ALREADY_EXISTS if (language,
// name) is already registered, or INVALID_TYPE if the signature is
// nil or its return/parameter descriptors are nil.
func (r *Registry) Register(language, name string, sig *types.Signature, callable Callable, flags Flags) error {
	if sig == nil {
		return perr.New(perr.InvalidType, "signature must not be nil")
	}
	if sig.Return == nil {
		return perr.New(perr.InvalidType, "signature return type must not be nil")
	}
	for _, p := range sig.Params {
		if p.Type == nil {
			return perr.Newf(perr.InvalidType, "parameter %q has no registered type", p.Name)
		}
	}

	k := key{language: language, name: name}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[k]; exists {
		return perr.Newf(perr.AlreadyExists, "function %s:%s is already registered", language, name)
	}
	r.entries[k] = &Entry{
		Language:  language,
		Name:      name,
		Signature: sig.Clone(),
		Callable:  callable,
		Flags:     flags,
	}
	return nil
}

// SetPermissionMask updates the permission mask an existing entry
// requires of a caller's effective security mask. Returns
// FUNCTION_NOT_FOUND if the entry does not exist.
func (r *Registry) SetPermissionMask(language, name string, mask uint32) error {
	k := key{language: language, name: name}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[k]
	if !exists {
		return perr.Newf(perr.FunctionNotFound, "function %s:%s is not registered", language, name)
	}
	e.PermissionMask = mask
	return nil
}

// Unregister removes an entry. Returns FUNCTION_NOT_FOUND if it did
// not exist.
func (r *Registry) Unregister(language, name string) error {
	k := key{language: language, name: name}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[k]; !exists {
		return perr.Newf(perr.FunctionNotFound, "function %s:%s is not registered", language, name)
	}
	delete(r.entries, k)
	return nil
}

// Lookup resolves (language, name) to a cloned Entry.
func (r *Registry) Lookup(language, name string) (*Entry, error) {
	k := key{language: language, name: name}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.entries[k]
	if !exists {
		return nil, perr.Newf(perr.FunctionNotFound, "function %s:%s is not registered", language, name)
	}
	return e.Clone(), nil
}

// Enumerate returns clones of every registered entry, optionally
// filtered to a single language (empty string means all languages).
func (r *Registry) Enumerate(language string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for k, e := range r.entries {
		if language != "" && k.language != language {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// Count returns the number of registered entries, optionally filtered
// to a single language.
func (r *Registry) Count(language string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if language == "" {
		return len(r.entries)
	}
	n := 0
	for k := range r.entries {
		if k.language == language {
			n++
		}
	}
	return n
}

// Languages returns the distinct set of languages with at least one
// registration.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range r.entries {
		seen[k.language] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	return out
}

func (k key) String() string {
	return fmt.Sprintf("%s:%s", k.language, k.name)
}
