// Package bridge defines the capability surface a language adapter
// must implement (spec component C4). It is the only thing the
// dispatcher knows about a language: adding a new host language to
// LibPolyCall means implementing this interface, nothing more.
//
// Grounded on coreengine/agents.Contracts' standardized
// result/error-detail types and coreengine/kernel.ServiceHandler's
// context-first function-value style.
package bridge

import (
	"context"

	"github.com/libpolycall/polycall-go/internal/types"
)

// ExceptionInfo is the result of Bridge.HandleException translating a
// host-runtime exception into a core-understood shape.
type ExceptionInfo struct {
	Kind    string
	Message string
}

// MemoryHandle identifies a buffer the bridge acquired on the core's
// behalf, returned by AcquireMemory and required by ReleaseMemory.
// Treated as opaque outside the owning bridge.
type MemoryHandle struct {
	Ptr  uintptr
	Size int
}

// Bridge is the uniform capability surface a language adapter
// implements. All methods are safe to call concurrently from multiple
// dispatcher goroutines unless documented otherwise; a bridge that
// cannot support concurrent calls must serialize internally.
type Bridge interface {
	// Language returns the registered language key this bridge
	// serves, e.g. "python", "node", "jvm".
	Language() string

	// Initialize prepares the bridge for use. Called once by
	// register_bridge; a non-nil error aborts registration with
	// BRIDGE_FAILURE.
	Initialize(ctx context.Context) error

	// Cleanup releases bridge-owned resources. destroy_context calls it
	// once for each bridge attached with ConnectRemoteBridge; a bridge
	// attached with RegisterBridge is not cleaned up by destroy_context.
	Cleanup(ctx context.Context) error

	// ConvertToNative converts a core Value into the bridge's native
	// representation for dstType, returning an opaque native handle
	// the bridge itself understands.
	ConvertToNative(ctx context.Context, value *types.Value, dstType *types.Descriptor) (any, error)

	// ConvertFromNative converts a native value (as produced by this
	// same bridge) back into a core Value typed as srcType.
	ConvertFromNative(ctx context.Context, native any, srcType *types.Descriptor) (*types.Value, error)

	// RegisterFunction informs the bridge that name now resolves to
	// address with the given signature, so the bridge can prepare
	// whatever internal dispatch table it needs.
	RegisterFunction(ctx context.Context, name string, address uintptr, sig *types.Signature, flags uint32) error

	// CallFunction invokes name with args and returns its result.
	// This is the single suspension point the dispatcher treats as
	// opaque and arbitrarily long-running (spec section 5).
	CallFunction(ctx context.Context, name string, args []*types.Value) (*types.Value, error)

	// AcquireMemory pins or transfers ownership of a size-byte buffer
	// at ptr for the duration of a call, returning a handle that must
	// be passed to ReleaseMemory before the call returns.
	AcquireMemory(ctx context.Context, ptr uintptr, size int) (MemoryHandle, error)

	// ReleaseMemory releases a buffer previously acquired with
	// AcquireMemory.
	ReleaseMemory(ctx context.Context, handle MemoryHandle) error

	// HandleException translates an opaque host-runtime exception
	// value into a core-understood (kind, message) pair. The bridge
	// must never let a host exception propagate past this call.
	HandleException(ctx context.Context, opaque any) ExceptionInfo
}

// Pinger is an optional capability a Bridge may additionally
// implement to give the Connection Pool's validate() step a real
// liveness probe instead of the staleness fallback (spec 4.11 /
// section 9's open question about the validation stub).
type Pinger interface {
	Ping(ctx context.Context) error
}
