package protocol

import (
	"context"
	"sync"

	"github.com/libpolycall/polycall-go/internal/perr"
)

// State is a protocol state machine value; a handler entry declares
// which states it is allowed to execute in.
type State uint32

const (
	StateIdle State = 1 << iota
	StateAuthenticated
	StateActive
	StateClosing
)

// Has reports whether s includes every state flag set in other.
func (s State) Has(other State) bool { return s&other == other }

// Validator optionally checks a Message before its Handler runs.
type Validator func(ctx context.Context, m Message) error

// Handler executes a decoded command and produces a Response.
type Handler func(ctx context.Context, m Message) (Response, error)

// HandlerEntry is one registered command: id, name, handler, and the
// constraints spec 4.10 attaches to it.
type HandlerEntry struct {
	ID            uint32
	Name          string
	Handler       Handler
	Validator     Validator
	RequiredMask  uint32
	AllowedStates State
	UserData      any
}

// HandlerRegistry holds command handlers keyed by both id and name,
// rejecting duplicates of either (spec: "duplicate detection on both
// id and name").
type HandlerRegistry struct {
	mu     sync.RWMutex
	byID   map[uint32]*HandlerEntry
	byName map[string]*HandlerEntry
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		byID:   make(map[uint32]*HandlerEntry),
		byName: make(map[string]*HandlerEntry),
	}
}

// Register adds entry, failing with ALREADY_EXISTS if its id or name
// is already registered.
func (r *HandlerRegistry) Register(entry HandlerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[entry.ID]; exists {
		return perr.Newf(perr.AlreadyExists, "command id %d is already registered", entry.ID)
	}
	if _, exists := r.byName[entry.Name]; exists {
		return perr.Newf(perr.AlreadyExists, "command name %q is already registered", entry.Name)
	}
	e := entry
	r.byID[entry.ID] = &e
	r.byName[entry.Name] = &e
	return nil
}

// Lookup resolves a command id to its handler entry.
func (r *HandlerRegistry) Lookup(id uint32) (*HandlerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, perr.Newf(perr.FunctionNotFound, "no handler registered for command id %d", id)
	}
	return e, nil
}

// Execute consults the protocol state machine, checks the entry's
// required permission mask and allowed-state set, runs the optional
// validator, then runs the handler (spec 4.10's execute() contract).
func (r *HandlerRegistry) Execute(ctx context.Context, m Message, currentState State, effectiveMask uint32) (Response, error) {
	entry, err := r.Lookup(m.CommandID)
	if err != nil {
		return Response{}, err
	}
	if entry.AllowedStates != 0 && entry.AllowedStates&currentState == 0 {
		return Response{}, perr.Newf(perr.InvalidArgument, "command %q is not allowed in the current protocol state", entry.Name)
	}
	if entry.RequiredMask != 0 && entry.RequiredMask&effectiveMask != entry.RequiredMask {
		return Response{}, perr.Newf(perr.SecurityViolation, "command %q requires permissions not held by the caller", entry.Name)
	}
	if entry.Validator != nil {
		if err := entry.Validator(ctx, m); err != nil {
			return Response{}, err
		}
	}
	return entry.Handler(ctx, m)
}
