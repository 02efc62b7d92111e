// Package dispatch implements the Dispatcher (spec component C7): the
// state machine that turns a (language, function, args) request into
// a bridge call, passing it through authorization, cache lookup,
// marshalling, invocation, and audit.
//
// Grounded on coreengine/kernel.Kernel's composition-root style (one
// struct holding every collaborator, one top-level entry point) and
// coreengine/kernel/recovery.go's SafeExecuteWithResult panic
// containment, generalized from a single generic result type to the
// dispatcher's own (*types.Value, error) shape.
package dispatch

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/libpolycall/polycall-go/internal/audit"
	"github.com/libpolycall/polycall-go/internal/bridge"
	"github.com/libpolycall/polycall-go/internal/cache"
	"github.com/libpolycall/polycall-go/internal/observability"
	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/registry"
	"github.com/libpolycall/polycall-go/internal/security"
	"github.com/libpolycall/polycall-go/internal/typemap"
	"github.com/libpolycall/polycall-go/internal/types"
)

// Logger is the narrow structured-logging surface the dispatcher
// needs, matching the interface every coreengine package re-declares
// locally rather than sharing one logging package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Request is one call to dispatch.
type Request struct {
	// CallID correlates this request across logs, audit entries, and
	// async event-bus notifications. Left empty, Dispatch assigns one.
	CallID         string
	Language       string
	Function       string
	Args           []*types.Value
	CallerIdentity string
	EffectiveMask  security.Mask
	Flags          security.CallFlags
	SourceIP       string
	UserAgent      string
	// Batched marks a call as having been submitted through the batch
	// queue (internal/batch), for the Performance Trace record only;
	// it carries no dispatch-path semantics of its own.
	Batched bool
}

// Result is what Dispatch returns on success.
type Result struct {
	CallID   string
	Value    *types.Value
	CacheHit bool
	Duration time.Duration
}

// Dispatcher composes the registry, type mapper, security guard,
// cache, bridges, and audit log into the single call path described
// by spec 4.7's stage list: accepted, authorized, cache-probed,
// marshalled-in, invoked, marshalled-out, cached, audited, done.
type Dispatcher struct {
	Registry *registry.Registry
	Mapper   *typemap.Mapper
	Guard    *security.Guard
	Cache    *cache.Cache
	Audit    *audit.Log
	Logger   Logger
	// Traces retains Performance Trace records for ad hoc querying by
	// function/language. May be nil to disable trace retention.
	Traces *observability.TraceRing

	bridges map[string]bridge.Bridge
}

// New builds a Dispatcher from its collaborators. cache may be nil to
// disable call-result caching entirely.
func New(reg *registry.Registry, mapper *typemap.Mapper, guard *security.Guard, c *cache.Cache, auditLog *audit.Log, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		Registry: reg,
		Mapper:   mapper,
		Guard:    guard,
		Cache:    c,
		Audit:    auditLog,
		Logger:   logger,
		bridges:  make(map[string]bridge.Bridge),
	}
}

// RegisterBridge makes br available to serve calls for its Language().
// Returns ALREADY_EXISTS if a bridge is already registered for that
// language.
func (d *Dispatcher) RegisterBridge(ctx context.Context, br bridge.Bridge) error {
	lang := br.Language()
	if _, exists := d.bridges[lang]; exists {
		return perr.Newf(perr.AlreadyExists, "bridge for language %q is already registered", lang)
	}
	if err := br.Initialize(ctx); err != nil {
		return perr.Wrap(perr.BridgeFailure, "bridge initialization failed", err)
	}
	d.bridges[lang] = br
	return nil
}

// Bridge returns the bridge registered for language, if any.
func (d *Dispatcher) Bridge(language string) (bridge.Bridge, bool) {
	b, ok := d.bridges[language]
	return b, ok
}

// Dispatch runs req through the full call-path state machine, wrapped
// in one dispatch span (polycall.dispatch) covering the whole call.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	ctx, span := observability.StartDispatchSpan(ctx, req.Language, req.Function)
	defer span.End()

	res, err := d.dispatch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}
	span := oteltrace.SpanFromContext(ctx)

	// accepted
	br, ok := d.bridges[req.Language]
	if !ok {
		return d.fail(req, start, perr.Newf(perr.LanguageNotSupported, "no bridge registered for language %q", req.Language))
	}
	entry, err := d.Registry.Lookup(req.Language, req.Function)
	if err != nil {
		return d.fail(req, start, err)
	}
	if !entry.Signature.ArgCountValid(len(req.Args)) {
		return d.fail(req, start, perr.Newf(perr.SignatureMismatch, "function %s:%s expects %d argument(s), got %d", req.Language, req.Function, entry.Signature.MinArgs(), len(req.Args)))
	}
	if err := d.checkSignatureCompatible(req, entry); err != nil {
		return d.fail(req, start, err)
	}

	// authorized
	var scope *security.Scope
	if entry.Flags.Has(registry.FlagSecure) || req.Flags.Secure {
		scope, err = d.Guard.Open(req.CallerIdentity, security.Mask(entry.PermissionMask), req.Flags)
		if err != nil {
			return d.fail(req, start, err)
		}
		resp := d.Guard.Respond(scope)
		if err := d.Guard.Validate(scope, resp, req.EffectiveMask); err != nil {
			d.Guard.Close(scope)
			return d.fail(req, start, err)
		}
		defer d.Guard.Close(scope)
	}

	// cache-probed
	var fingerprint string
	cacheable := d.Cache != nil && entry.Flags.Has(registry.FlagPure)
	if cacheable {
		fingerprint = cache.Fingerprint(req.Language, req.Function, req.Args)
		if hit, ok := d.Cache.Get(fingerprint); ok {
			span.AddEvent("cache-hit")
			observability.RecordCacheResult("call_result", "hit")
			d.auditSuccess(req, true)
			d.recordTrace(req, start, 0, 0, true)
			return &Result{CallID: req.CallID, Value: hit.(*types.Value).Clone(), CacheHit: true, Duration: time.Since(start)}, nil
		}
		observability.RecordCacheResult("call_result", "miss")
	}

	// marshalled-in
	span.AddEvent("marshalled-in")
	marshalStart := time.Now()
	marshalled, handles, err := d.marshalArgs(ctx, br, req, entry)
	marshalDur := time.Since(marshalStart)
	if err != nil {
		return d.fail(req, start, err)
	}

	// invoked, with panic containment around the untrusted bridge call
	span.AddEvent("invoked")
	execStart := time.Now()
	result, err := d.safeCall(ctx, br, req.Function, marshalled)
	execDur := time.Since(execStart)
	if err != nil {
		d.releaseMemory(ctx, br, handles)
		return d.fail(req, start, err)
	}

	// marshalled-out: round-trip the result through the bridge's own
	// native-conversion contract before the core-side type coercion.
	span.AddEvent("marshalled-out")
	if entry.Signature.Return != nil {
		result, err = br.ConvertFromNative(ctx, result, entry.Signature.Return)
		if err != nil {
			d.releaseMemory(ctx, br, handles)
			return d.fail(req, start, perr.Wrap(perr.ConversionFailed, "bridge failed to convert result from native representation", err))
		}
		if result.Tag != entry.Signature.Return.Tag {
			result, err = d.Mapper.Convert(result, req.Language, req.Language, entry.Signature.Return.Tag, typemap.FlagNone)
			if err != nil {
				d.releaseMemory(ctx, br, handles)
				return d.fail(req, start, err)
			}
		}
	}
	d.releaseMemory(ctx, br, handles)

	// cached
	if cacheable {
		d.Cache.Put(fingerprint, result.Clone())
	}

	// audited, done
	d.auditSuccess(req, false)
	dur := time.Since(start)
	observability.RecordDispatch(req.Language, req.Function, "success", dur.Seconds())
	d.recordTrace(req, start, marshalDur, execDur, false)
	return &Result{CallID: req.CallID, Value: result, Duration: dur}, nil
}

// recordTrace appends a Performance Trace record for one completed
// dispatch, a no-op if the dispatcher was built without a TraceRing.
func (d *Dispatcher) recordTrace(req Request, start time.Time, marshalDur, execDur time.Duration, cacheHit bool) {
	if d.Traces == nil {
		return
	}
	d.Traces.Record(observability.Trace{
		FunctionName:   req.Function,
		SourceLanguage: req.Language,
		TargetLanguage: req.Language,
		Start:          start,
		End:            time.Now(),
		MarshalTime:    marshalDur,
		ExecTime:       execDur,
		ArgCount:       len(req.Args),
		Cached:         cacheHit,
		Batched:        req.Batched,
	})
}

// checkSignatureCompatible runs spec 4.7 step 3's per-argument
// compatibility check: each arg's descriptor must be Compatible with
// its declared parameter type before any marshalling is attempted.
// This rejects narrowing and unrelated-type pairs (e.g. a string
// argument against an int parameter) up front with SIGNATURE_MISMATCH,
// rather than letting marshalArgs silently narrow via the Mapper or
// fail later with a less specific conversion error.
func (d *Dispatcher) checkSignatureCompatible(req Request, entry *registry.Entry) error {
	for i, arg := range req.Args {
		paramType, ok := entry.Signature.ParamAt(i)
		if !ok || paramType == nil {
			continue
		}
		if !types.Compatible(arg.Descriptor, paramType) {
			return perr.Newf(perr.SignatureMismatch, "function %s:%s argument %d: %s is not compatible with declared type %s", req.Language, req.Function, i, arg.Tag, paramType.Tag)
		}
	}
	return nil
}

// marshalArgs converts each argument to its declared parameter type,
// then runs it through the bridge's own ConvertToNative contract;
// pointer-tagged arguments additionally acquire cross-boundary memory
// via AcquireMemory, whose handles the caller must release (via
// releaseMemory) once the call completes, spec 4.7 steps 5 and 10.
func (d *Dispatcher) marshalArgs(ctx context.Context, br bridge.Bridge, req Request, entry *registry.Entry) ([]*types.Value, []bridge.MemoryHandle, error) {
	out := make([]*types.Value, len(req.Args))
	var handles []bridge.MemoryHandle
	for i, arg := range req.Args {
		paramType, ok := entry.Signature.ParamAt(i)
		converted := arg
		if ok && paramType != nil && arg.Tag != paramType.Tag {
			var err error
			converted, err = d.Mapper.Convert(arg, req.Language, req.Language, paramType.Tag, typemap.FlagNone)
			if err != nil {
				d.releaseMemory(ctx, br, handles)
				return nil, nil, err
			}
		}
		if _, err := br.ConvertToNative(ctx, converted, converted.Descriptor); err != nil {
			d.releaseMemory(ctx, br, handles)
			return nil, nil, perr.Wrap(perr.ConversionFailed, "bridge rejected native conversion of argument", err)
		}
		if converted.Tag == types.Pointer {
			ptr, _ := converted.AsPointer()
			handle, err := br.AcquireMemory(ctx, ptr, converted.Descriptor.SizeBytes)
			if err != nil {
				d.releaseMemory(ctx, br, handles)
				return nil, nil, perr.Wrap(perr.MemoryAllocation, "bridge failed to acquire cross-boundary memory", err)
			}
			handles = append(handles, handle)
		}
		out[i] = converted
	}
	return out, handles, nil
}

// releaseMemory releases every handle acquired during marshalling,
// logging rather than failing the call if the bridge rejects a
// release (the call result is already decided by the time this runs).
func (d *Dispatcher) releaseMemory(ctx context.Context, br bridge.Bridge, handles []bridge.MemoryHandle) {
	for _, h := range handles {
		if err := br.ReleaseMemory(ctx, h); err != nil {
			d.Logger.Warn("release_memory_failed", "handle", h, "error", err)
		}
	}
}

func (d *Dispatcher) safeCall(ctx context.Context, br bridge.Bridge, function string, args []*types.Value) (result *types.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			d.Logger.Error("bridge_panic_recovered", "function", function, "panic", r, "stack", stack)
			info := br.HandleException(ctx, r)
			err = perr.Newf(perr.BridgeFailure, "bridge panicked while calling %q: %s", function, info.Message).WithDetails(map[string]any{"exception_kind": info.Kind})
		}
	}()
	result, err = br.CallFunction(ctx, function, args)
	if err != nil {
		info := br.HandleException(ctx, err)
		return nil, perr.Wrap(perr.BridgeFailure, info.Message, err).WithDetails(map[string]any{"exception_kind": info.Kind})
	}
	return result, nil
}

func (d *Dispatcher) fail(req Request, start time.Time, err error) (*Result, error) {
	d.Logger.Warn("dispatch_failed", "call_id", req.CallID, "language", req.Language, "function", req.Function, "error", err)
	d.auditFailure(req, err)
	observability.RecordDispatch(req.Language, req.Function, "error", time.Since(start).Seconds())
	return nil, err
}

func (d *Dispatcher) auditSuccess(req Request, cacheHit bool) {
	if d.Audit == nil {
		return
	}
	d.Audit.Append(audit.Event{
		Type:       audit.KindAccessGranted,
		IdentityID: req.CallerIdentity,
		Resource:   req.Language + ":" + req.Function,
		Action:     "call_function",
		Success:    true,
		SourceIP:   req.SourceIP,
		UserAgent:  req.UserAgent,
		Details:    map[string]any{"cache_hit": cacheHit, "call_id": req.CallID},
	})
}

func (d *Dispatcher) auditFailure(req Request, err error) {
	if d.Audit == nil {
		return
	}
	d.Audit.Append(audit.Event{
		Type:         audit.KindAccessDenied,
		IdentityID:   req.CallerIdentity,
		Resource:     req.Language + ":" + req.Function,
		Action:       "call_function",
		Success:      false,
		ErrorMessage: err.Error(),
		SourceIP:     req.SourceIP,
		UserAgent:    req.UserAgent,
		Details:      map[string]any{"error_code": perr.CodeOf(err).String(), "call_id": req.CallID},
	})
}
