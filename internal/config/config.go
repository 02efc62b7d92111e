// Package config implements the Configuration Facade (spec component
// C12): a namespaced typed key/value store with JSON/YAML
// load/save and post-update change notification.
//
// Grounded on coreengine/config/core_config.go's single-mutex
// global-store discipline (GetCoreConfig/SetCoreConfig/FromMap/ToMap),
// generalized from one fixed struct to an arbitrary section/key
// namespace so every other component can own its own section.
package config

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/libpolycall/polycall-go/internal/perr"
)

// Kind identifies the type tag a stored value carries.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindObject
)

type entry struct {
	kind  Kind
	value any
}

// ChangeHandler is invoked after section.key has been updated. It
// must not call back into a Store setter re-entrantly (spec 4.12:
// "handlers must not call back into mutating setters re-entrantly").
type ChangeHandler func(section, key string, newValue any)

type handlerReg struct {
	section string
	key     string
	fn      ChangeHandler
}

// Store is a namespaced typed configuration store. Each (section,
// key) pair holds one typed value; a single mutex protects the whole
// store per spec 5's shared-resource policy ("configuration store"
// gets one associated mutex).
type Store struct {
	mu           sync.RWMutex
	sections     map[string]map[string]entry
	defaults     map[string]map[string]entry
	handlers     []handlerReg
	validate     bool
	firingLock   sync.Mutex
	firing       bool
}

// New creates an empty Store. When validate is true, a set against an
// unknown section or key not already present via SetDefault fails
// with INVALID_ARGUMENT (spec 4.12: "Validation ... rejects unknown
// section/key ... with INVALID_ARGUMENT"); a get of an unknown key
// returns the caller's default either way.
func New(validate bool) *Store {
	return &Store{
		sections: make(map[string]map[string]entry),
		defaults: make(map[string]map[string]entry),
		validate: validate,
	}
}

// SetDefault registers section.key's default value and type, also
// establishing it as a known key for validation purposes.
func (s *Store) SetDefault(section, key string, kind Kind, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSectionLocked(s.defaults, section)[key] = entry{kind: kind, value: value}
	s.ensureSectionLocked(s.sections, section)[key] = entry{kind: kind, value: value}
}

func (s *Store) ensureSectionLocked(m map[string]map[string]entry, section string) map[string]entry {
	sec, ok := m[section]
	if !ok {
		sec = make(map[string]entry)
		m[section] = sec
	}
	return sec
}

func (s *Store) getTyped(section, key string, kind Kind, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.sections[section]
	if !ok {
		return def
	}
	e, ok := sec[key]
	if !ok || e.kind != kind {
		return def
	}
	return e.value
}

func (s *Store) setTyped(section, key string, kind Kind, value any) error {
	s.firingLock.Lock()
	reentrant := s.firing
	s.firingLock.Unlock()
	if reentrant {
		return perr.New(perr.InvalidArgument, "change handler attempted a re-entrant configuration update")
	}

	s.mu.Lock()
	if s.validate {
		if _, known := s.defaults[section][key]; !known {
			s.mu.Unlock()
			return perr.Newf(perr.InvalidArgument, "unknown configuration key %s.%s", section, key)
		}
	}
	s.ensureSectionLocked(s.sections, section)[key] = entry{kind: kind, value: value}
	handlers := s.matchingHandlers(section, key)
	s.mu.Unlock()

	s.fire(handlers, section, key, value)
	return nil
}

func (s *Store) matchingHandlers(section, key string) []ChangeHandler {
	var out []ChangeHandler
	for _, h := range s.handlers {
		if h.section == section && (h.key == "" || h.key == key) {
			out = append(out, h.fn)
		}
	}
	return out
}

// fire runs change handlers outside the store lock. Re-entrant calls
// into a setter from within a handler are rejected rather than
// deadlocked, since the store lock is already released here.
func (s *Store) fire(handlers []ChangeHandler, section, key string, value any) {
	if len(handlers) == 0 {
		return
	}
	s.firingLock.Lock()
	s.firing = true
	s.firingLock.Unlock()
	defer func() {
		s.firingLock.Lock()
		s.firing = false
		s.firingLock.Unlock()
	}()
	for _, h := range handlers {
		h(section, key, value)
	}
}

func (s *Store) GetBool(section, key string, def bool) bool {
	v := s.getTyped(section, key, KindBool, def)
	b, _ := v.(bool)
	return b
}

func (s *Store) SetBool(section, key string, value bool) error {
	return s.setTyped(section, key, KindBool, value)
}

func (s *Store) GetInt(section, key string, def int64) int64 {
	v := s.getTyped(section, key, KindInt, def)
	i, _ := v.(int64)
	return i
}

func (s *Store) SetInt(section, key string, value int64) error {
	return s.setTyped(section, key, KindInt, value)
}

func (s *Store) GetFloat(section, key string, def float64) float64 {
	v := s.getTyped(section, key, KindFloat, def)
	f, _ := v.(float64)
	return f
}

func (s *Store) SetFloat(section, key string, value float64) error {
	return s.setTyped(section, key, KindFloat, value)
}

// GetString returns an independent copy of the stored string (spec
// 4.12: "String getters return owned strings the caller must free");
// Go's value semantics make the copy implicit on return.
func (s *Store) GetString(section, key string, def string) string {
	v := s.getTyped(section, key, KindString, def)
	str, _ := v.(string)
	return str
}

func (s *Store) SetString(section, key string, value string) error {
	return s.setTyped(section, key, KindString, value)
}

// GetObject returns the stored value by reference (spec 4.12: "object
// getters return borrowed references"); callers must not mutate it
// without going through SetObject.
func (s *Store) GetObject(section, key string, def any) any {
	return s.getTyped(section, key, KindObject, def)
}

func (s *Store) SetObject(section, key string, value any) error {
	return s.setTyped(section, key, KindObject, value)
}

// RegisterChangeHandler subscribes fn to updates on section.key. An
// empty key subscribes to every key in section.
func (s *Store) RegisterChangeHandler(section, key string, fn ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handlerReg{section: section, key: key, fn: fn})
}

// ResetDefaults restores section (or every section, when section is
// empty) to its registered defaults.
func (s *Store) ResetDefaults(section string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if section == "" {
		for sec, keys := range s.defaults {
			cp := make(map[string]entry, len(keys))
			for k, v := range keys {
				cp[k] = v
			}
			s.sections[sec] = cp
		}
		return
	}
	keys, ok := s.defaults[section]
	if !ok {
		return
	}
	cp := make(map[string]entry, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	s.sections[section] = cp
}

// snapshot renders the whole store as a plain nested map suitable for
// JSON/YAML marshalling.
func (s *Store) snapshot() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.sections))
	for sec, keys := range s.sections {
		m := make(map[string]any, len(keys))
		for k, e := range keys {
			m[k] = e.value
		}
		out[sec] = m
	}
	return out
}

// restore loads a plain nested map back into the store, inferring
// Kind from the decoded Go type. Numbers decoded by encoding/json
// arrive as float64; by gopkg.in/yaml.v3 as int or float64 depending
// on the literal, so both are normalized against whether the target
// key's default (if any) is KindInt.
func (s *Store) restore(data map[string]map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for section, keys := range data {
		sec := s.ensureSectionLocked(s.sections, section)
		defSec := s.defaults[section]
		for key, raw := range keys {
			kind := inferKind(raw)
			if defSec != nil {
				if d, ok := defSec[key]; ok {
					kind = d.kind
				}
			}
			sec[key] = entry{kind: kind, value: coerce(kind, raw)}
		}
	}
}

// inferKind guesses a decoded value's Kind when no registered default
// supplies one. encoding/json decodes every number as float64, so a
// whole-number JSON value is assumed to be KindInt; gopkg.in/yaml.v3
// preserves int vs. float natively and needs no such guess.
func inferKind(v any) Kind {
	switch n := v.(type) {
	case bool:
		return KindBool
	case int, int64, int32:
		return KindInt
	case float64:
		if n == float64(int64(n)) {
			return KindInt
		}
		return KindFloat
	case float32:
		return KindFloat
	case string:
		return KindString
	default:
		return KindObject
	}
}

func coerce(kind Kind, v any) any {
	switch kind {
	case KindInt:
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int:
			return int64(n)
		case int64:
			return n
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return v
}

// Load reads path (JSON or YAML, chosen by extension) and merges it
// into the store.
func (s *Store) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return perr.Wrap(perr.InvalidArgument, "failed to read configuration file", err)
	}
	data := make(map[string]map[string]any)
	if isYAML(path) {
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return perr.Wrap(perr.InvalidArgument, "failed to parse YAML configuration", err)
		}
	} else {
		if err := json.Unmarshal(raw, &data); err != nil {
			return perr.Wrap(perr.InvalidArgument, "failed to parse JSON configuration", err)
		}
	}
	s.restore(data)
	return nil
}

// Save writes the store's current contents to path as JSON or YAML,
// chosen by extension.
func (s *Store) Save(path string) error {
	data := s.snapshot()
	var raw []byte
	var err error
	if isYAML(path) {
		raw, err = yaml.Marshal(data)
	} else {
		raw, err = json.MarshalIndent(data, "", "  ")
	}
	if err != nil {
		return perr.Wrap(perr.InvalidArgument, "failed to marshal configuration", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return perr.Wrap(perr.InvalidArgument, "failed to write configuration file", err)
	}
	return nil
}

func isYAML(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}
