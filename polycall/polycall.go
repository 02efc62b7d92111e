// Package polycall is the embedded library surface (spec section 6):
// the single composition root a host program links against to create
// a context, register bridges and functions, and dispatch calls.
//
// Grounded on coreengine/kernel.Kernel's composition-root pattern:
// one struct owning every subsystem, a constructor wiring them
// together, and thin pass-through methods exposing each subsystem's
// capability to the caller.
package polycall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/libpolycall/polycall-go/internal/audit"
	"github.com/libpolycall/polycall-go/internal/batch"
	"github.com/libpolycall/polycall-go/internal/bridge"
	"github.com/libpolycall/polycall-go/internal/bridge/remote"
	"github.com/libpolycall/polycall-go/internal/cache"
	"github.com/libpolycall/polycall-go/internal/config"
	"github.com/libpolycall/polycall-go/internal/dispatch"
	"github.com/libpolycall/polycall-go/internal/eventbus"
	"github.com/libpolycall/polycall-go/internal/observability"
	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/pool"
	"github.com/libpolycall/polycall-go/internal/registry"
	"github.com/libpolycall/polycall-go/internal/security"
	"github.com/libpolycall/polycall-go/internal/types"
	"github.com/libpolycall/polycall-go/internal/typemap"
)

// Version is the embedded library's release string, returned by
// GetVersion.
const Version = "0.1.0"

// ContextFlags is the enumerated flag set spec section 6 attaches to
// create_context.
type ContextFlags uint32

const FlagNone ContextFlags = 0

const (
	FlagAsync ContextFlags = 1 << iota
	FlagCached
	FlagSecure
	FlagTraced
	FlagValidated
	FlagPriority
	FlagBatched
	FlagZeroCopy
)

func (f ContextFlags) Has(other ContextFlags) bool { return f&other == other }

// DefaultCacheCapacity and DefaultCacheTTL size a context's call and
// type caches when FlagCached is set; the config store is not
// consulted for cache sizing.
const (
	DefaultCacheCapacity = 1024
	DefaultCacheTTL      = 5 * time.Minute
	DefaultAuditCapacity = 4096
	DefaultTraceCapacity = 4096
)

// Context is one embedded instance of the dispatcher, with its own
// registry, type mapper, security guard, caches, audit log, batch
// queue, and configuration store. A host process typically creates
// exactly one.
type Context struct {
	Flags ContextFlags

	Registry   *registry.Registry
	Mapper     *typemap.Mapper
	Guard      *security.Guard
	CallCache  *cache.Cache
	TypeCache  *cache.Cache
	Audit      *audit.Log
	Dispatcher *dispatch.Dispatcher
	Batch      *batch.Queue
	Config     *config.Store
	Events     *eventbus.Bus

	mu            sync.RWMutex
	destroyed     bool
	remoteBridges []*remote.Bridge
}

// CreateContext builds a fully wired Context. The call/type caches
// are only created when flags includes Cached, per spec's optional
// cache-layer semantics.
func CreateContext(flags ContextFlags) (*Context, error) {
	reg := registry.New()
	mapper := typemap.New()
	guard := security.NewGuard()
	auditLog := audit.New(DefaultAuditCapacity)
	cfg := config.New(false)

	var callCache, typeCache *cache.Cache
	if flags.Has(FlagCached) {
		callCache = cache.New(DefaultCacheCapacity, DefaultCacheTTL)
		typeCache = cache.New(DefaultCacheCapacity, DefaultCacheTTL)
	}

	d := dispatch.New(reg, mapper, guard, callCache, auditLog, nil)
	d.Traces = observability.NewTraceRing(DefaultTraceCapacity)

	return &Context{
		Flags:      flags,
		Registry:   reg,
		Mapper:     mapper,
		Guard:      guard,
		CallCache:  callCache,
		TypeCache:  typeCache,
		Audit:      auditLog,
		Dispatcher: d,
		Batch:      batch.New(),
		Config:     cfg,
		Events:     eventbus.New(nil),
	}, nil
}

// DestroyContext releases a context's resources. Safe to call more
// than once.
func DestroyContext(ctx *Context) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.destroyed {
		return
	}
	ctx.destroyed = true
	if ctx.CallCache != nil {
		ctx.CallCache.Clear()
	}
	if ctx.TypeCache != nil {
		ctx.TypeCache.Clear()
	}
	for _, rb := range ctx.remoteBridges {
		_ = rb.Cleanup(context.Background())
	}
	ctx.Events.Clear()
}

func (ctx *Context) checkAlive() error {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	if ctx.destroyed {
		return perr.New(perr.NotInitialized, "context has been destroyed")
	}
	return nil
}

// RegisterBridge attaches a language bridge to the context's
// dispatcher.
func (ctx *Context) RegisterBridge(parent context.Context, br bridge.Bridge) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	if err := ctx.Dispatcher.RegisterBridge(parent, br); err != nil {
		return err
	}
	ctx.Events.Publish(parent, eventbus.BridgeRegistered{Language: br.Language()})
	return nil
}

// ConnectRemoteBridge dials addr with a Connection Pool (C11) sized by
// cfg and registers the resulting bridge.Bridge under language, so
// calls to that language are carried over the Command Protocol (C10)
// to a remote polycalld instance instead of an in-process bridge.
// callTimeout bounds each individual CallFunction; zero means no
// per-call timeout beyond parent's own deadline. The dialed pool is
// closed automatically on DestroyContext.
func (ctx *Context) ConnectRemoteBridge(parent context.Context, language, addr string, cfg pool.Config, callTimeout time.Duration) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	rb, err := remote.Dial(parent, language, addr, cfg, callTimeout)
	if err != nil {
		return perr.Wrap(perr.BridgeFailure, "failed to dial remote bridge", err)
	}
	if err := ctx.RegisterBridge(parent, rb); err != nil {
		_ = rb.Cleanup(parent)
		return err
	}
	ctx.mu.Lock()
	ctx.remoteBridges = append(ctx.remoteBridges, rb)
	ctx.mu.Unlock()
	return nil
}

// RegisterFunction registers a callable under (language, name).
// address is the opaque handle the bridge will receive back on
// invocation (a function pointer in a native embedding, a closure or
// method value in a pure-Go bridge).
func (ctx *Context) RegisterFunction(language, name string, address registry.Callable, sig *types.Signature, flags registry.Flags) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	return ctx.Registry.Register(language, name, sig, address, flags)
}

// CallFunction dispatches a call through the context's pipeline.
func (ctx *Context) CallFunction(parent context.Context, req dispatch.Request) (*dispatch.Result, error) {
	if err := ctx.checkAlive(); err != nil {
		return nil, err
	}
	return ctx.Dispatcher.Dispatch(parent, req)
}

// CallFunctionAsync dispatches req in a detached goroutine and
// returns immediately, publishing an eventbus.CallCompleted or
// eventbus.CallFailed event when the call finishes instead of
// returning a *dispatch.Result directly. Valid only on a context
// created with FlagAsync; every other caller should use CallFunction
// and read the result synchronously.
func (ctx *Context) CallFunctionAsync(parent context.Context, req dispatch.Request) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	if !ctx.Flags.Has(FlagAsync) {
		return perr.New(perr.InvalidArgument, "CallFunctionAsync requires a context created with FlagAsync")
	}
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}
	go func() {
		result, err := ctx.Dispatcher.Dispatch(parent, req)
		if err != nil {
			ctx.Events.Publish(parent, eventbus.CallFailed{CallID: req.CallID, Language: req.Language, Function: req.Function, Err: err})
			return
		}
		ctx.Events.Publish(parent, eventbus.CallCompleted{
			CallID:   req.CallID,
			Language: req.Language,
			Function: req.Function,
			CacheHit: result.CacheHit,
			Duration: result.Duration,
		})
	}()
	return nil
}

// SubscribeEvents registers handler for every eventbus event whose
// type name matches eventType (e.g. "CallCompleted", "CallFailed",
// "BridgeRegistered", "ConfigChanged"). The returned function
// unsubscribes; it is safe to call more than once.
func (ctx *Context) SubscribeEvents(eventType string, handler eventbus.Handler) (func(), error) {
	if err := ctx.checkAlive(); err != nil {
		return nil, err
	}
	return ctx.Events.Subscribe(eventType, handler), nil
}

// CreateValue constructs a zero-valued types.Value of the given tag,
// mirroring the embedded surface's create_value/destroy_value pair.
// destroy_value has no analogue in Go: the value is reclaimed by the
// garbage collector once it is no longer referenced.
func CreateValue(tag types.Tag) *types.Value {
	switch {
	case tag == types.Bool:
		return types.NewBool(false)
	case tag == types.Char:
		return types.NewChar(0)
	case tag == types.String:
		return types.NewString("", true)
	case tag == types.Pointer:
		return types.NewPointer(0)
	case tag.IsInteger() && !tag.IsUnsigned():
		return types.NewInt(tag, 0)
	case tag.IsInteger() && tag.IsUnsigned():
		return types.NewUint(tag, 0)
	case tag.IsFloat():
		return types.NewFloat(tag, 0)
	default:
		// Composite tags (Array, Struct, Function, Object, UserType,
		// Void) have no meaningful zero-arg constructor; the caller
		// builds these with the dedicated NewArray/NewStruct/... calls.
		return &types.Value{Tag: tag, Descriptor: types.NewDescriptor(tag)}
	}
}

// SetValueData overwrites an existing scalar Value in place with
// data's contents, reusing the Value's own tag. Composite tags (Array,
// Struct, Function, Object, UserType) aren't supported here: build a
// replacement with the dedicated New* constructor and assign it
// directly instead.
func SetValueData(v *types.Value, data any) error {
	if v == nil {
		return perr.New(perr.InvalidType, "value must not be nil")
	}

	var replacement *types.Value
	switch {
	case v.Tag == types.Bool:
		b, ok := data.(bool)
		if !ok {
			return perr.Newf(perr.TypeMismatch, "cannot set a %s value from %T", v.Tag, data)
		}
		replacement = types.NewBool(b)
	case v.Tag == types.Char:
		c, ok := data.(rune)
		if !ok {
			return perr.Newf(perr.TypeMismatch, "cannot set a %s value from %T", v.Tag, data)
		}
		replacement = types.NewChar(c)
	case v.Tag == types.String:
		s, ok := data.(string)
		if !ok {
			return perr.Newf(perr.TypeMismatch, "cannot set a %s value from %T", v.Tag, data)
		}
		replacement = types.NewString(s, v.IsOwnedString())
	case v.Tag == types.Pointer:
		p, ok := data.(uintptr)
		if !ok {
			return perr.Newf(perr.TypeMismatch, "cannot set a %s value from %T", v.Tag, data)
		}
		replacement = types.NewPointer(p)
	case v.Tag.IsInteger() && !v.Tag.IsUnsigned():
		i, ok := toInt64(data)
		if !ok {
			return perr.Newf(perr.TypeMismatch, "cannot set a %s value from %T", v.Tag, data)
		}
		replacement = types.NewInt(v.Tag, i)
	case v.Tag.IsInteger() && v.Tag.IsUnsigned():
		u, ok := toUint64(data)
		if !ok {
			return perr.Newf(perr.TypeMismatch, "cannot set a %s value from %T", v.Tag, data)
		}
		replacement = types.NewUint(v.Tag, u)
	case v.Tag.IsFloat():
		f, ok := toFloat64(data)
		if !ok {
			return perr.Newf(perr.TypeMismatch, "cannot set a %s value from %T", v.Tag, data)
		}
		replacement = types.NewFloat(v.Tag, f)
	default:
		return perr.Newf(perr.InvalidType, "SetValueData does not support composite tag %s", v.Tag)
	}

	*v = *replacement
	return nil
}

// GetValueData returns v's underlying Go value, unwrapped via the
// comma-ok accessor matching its tag.
func GetValueData(v *types.Value) (any, error) {
	if v == nil {
		return nil, perr.New(perr.InvalidType, "value must not be nil")
	}
	switch {
	case v.Tag == types.Bool:
		b, _ := v.AsBool()
		return b, nil
	case v.Tag == types.Char:
		c, _ := v.AsChar()
		return c, nil
	case v.Tag == types.String:
		s, _ := v.AsString()
		return s, nil
	case v.Tag == types.Pointer:
		p, _ := v.AsPointer()
		return p, nil
	case v.Tag.IsInteger() && !v.Tag.IsUnsigned():
		i, _ := v.AsInt()
		return i, nil
	case v.Tag.IsInteger() && v.Tag.IsUnsigned():
		u, _ := v.AsUint()
		return u, nil
	case v.Tag.IsFloat():
		f, _ := v.AsFloat()
		return f, nil
	case v.Tag == types.Array:
		a, _ := v.AsArray()
		return a, nil
	case v.Tag == types.Struct:
		s, _ := v.AsStruct()
		return s, nil
	case v.Tag == types.Function:
		fn, _ := v.AsFunction()
		return fn, nil
	case v.Tag == types.Object:
		o, _ := v.AsObject()
		return o, nil
	case v.Tag == types.UserType:
		u, _ := v.AsUser()
		return u, nil
	default:
		return nil, nil
	}
}

func toInt64(data any) (int64, bool) {
	switch n := data.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func toUint64(data any) (uint64, bool) {
	switch n := data.(type) {
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	}
	return 0, false
}

func toFloat64(data any) (float64, bool) {
	switch n := data.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// RegisterChangeHandler subscribes to updates on section.key (an
// empty key subscribes to the whole section).
func (ctx *Context) RegisterChangeHandler(section, key string, handler config.ChangeHandler) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	ctx.Config.RegisterChangeHandler(section, key, func(section, key string, newValue any) {
		handler(section, key, newValue)
		ctx.Events.Publish(context.Background(), eventbus.ConfigChanged{Section: section, Key: key})
	})
	return nil
}

// LoadFile loads the context's configuration store from path.
func (ctx *Context) LoadFile(path string) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	return ctx.Config.Load(path)
}

// SaveFile persists the context's configuration store to path.
func (ctx *Context) SaveFile(path string) error {
	if err := ctx.checkAlive(); err != nil {
		return err
	}
	return ctx.Config.Save(path)
}

// Info summarizes a context's registered surface, mirroring
// get_info's out-parameters as a plain return value.
type Info struct {
	LanguageCount int
	FunctionCount int
	TypeCount     int
}

// GetInfo reports how many languages, functions, and distinct
// registered parameter/return types a context currently carries.
func (ctx *Context) GetInfo() (Info, error) {
	if err := ctx.checkAlive(); err != nil {
		return Info{}, err
	}
	languages := ctx.Registry.Languages()
	entries := ctx.Registry.Enumerate("")

	seenTypes := make(map[types.Tag]struct{})
	for _, e := range entries {
		if e.Signature == nil {
			continue
		}
		if e.Signature.Return != nil {
			seenTypes[e.Signature.Return.Tag] = struct{}{}
		}
		for _, p := range e.Signature.Params {
			if p.Type != nil {
				seenTypes[p.Type.Tag] = struct{}{}
			}
		}
	}

	return Info{
		LanguageCount: len(languages),
		FunctionCount: len(entries),
		TypeCount:     len(seenTypes),
	}, nil
}

// QueryTraces returns retained Performance Trace records, optionally
// narrowed by function name and/or language (either left empty
// matches anything). Oldest first.
func (ctx *Context) QueryTraces(function, language string) ([]observability.Trace, error) {
	if err := ctx.checkAlive(); err != nil {
		return nil, err
	}
	if ctx.Dispatcher.Traces == nil {
		return nil, nil
	}
	return ctx.Dispatcher.Traces.Query(function, language), nil
}

// GetVersion returns the embedded library's version string.
func GetVersion() string {
	return fmt.Sprintf("libpolycall-go/%s", Version)
}
