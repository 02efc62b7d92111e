// Package bridgetest provides an in-memory Bridge implementation for
// exercising the dispatcher, batch queue, and pool without a real
// per-language adapter. Modeled on coreengine/testutil's pattern of a
// single reusable fixture shared across the test suite.
package bridgetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/libpolycall/polycall-go/internal/bridge"
	"github.com/libpolycall/polycall-go/internal/types"
)

// Func is a native function body registered with a Bridge.
type Func func(args []*types.Value) (*types.Value, error)

// Bridge is a trivial in-process bridge: ConvertToNative/FromNative
// are identity operations (core Values pass straight through as
// "native" values), and CallFunction dispatches to a registered Go
// closure. Useful for tests of components above C4 that should not
// need a real per-language adapter.
type Bridge struct {
	lang string

	mu               sync.Mutex
	funcs            map[string]Func
	calls            int
	acquired         map[uintptr]int
	initCalls        int
	failInit         bool
	failCall         map[string]error
	failConvertToNat error
}

// New creates a bridge registered under the given language key.
func New(language string) *Bridge {
	return &Bridge{
		lang:     language,
		funcs:    make(map[string]Func),
		acquired: make(map[uintptr]int),
		failCall: make(map[string]error),
	}
}

// FailInitialize makes the next Initialize call return an error, used
// to exercise BRIDGE_FAILURE propagation.
func (b *Bridge) FailInitialize() { b.failInit = true }

// FailNextCall makes CallFunction(name, ...) return err once.
func (b *Bridge) FailNextCall(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCall[name] = err
}

// FailNextConvertToNative makes the next ConvertToNative call return
// err once, used to exercise the dispatcher's marshalling-failure path.
func (b *Bridge) FailNextConvertToNative(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failConvertToNat = err
}

// Acquired reports how many outstanding AcquireMemory handles remain
// unreleased for ptr, used to assert acquire/release pairing.
func (b *Bridge) Acquired(ptr uintptr) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquired[ptr]
}

// Register wires a Go closure as the native body for name.
func (b *Bridge) Register(name string, fn Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.funcs[name] = fn
}

// CallCount returns how many times CallFunction actually reached a
// registered body (used to assert cache/batch dedup behavior).
func (b *Bridge) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *Bridge) Language() string { return b.lang }

func (b *Bridge) Initialize(ctx context.Context) error {
	b.initCalls++
	if b.failInit {
		b.failInit = false
		return fmt.Errorf("bridgetest: forced initialize failure")
	}
	return nil
}

func (b *Bridge) Cleanup(ctx context.Context) error { return nil }

func (b *Bridge) ConvertToNative(ctx context.Context, value *types.Value, dstType *types.Descriptor) (any, error) {
	b.mu.Lock()
	err := b.failConvertToNat
	b.failConvertToNat = nil
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *Bridge) ConvertFromNative(ctx context.Context, native any, srcType *types.Descriptor) (*types.Value, error) {
	v, ok := native.(*types.Value)
	if !ok {
		return nil, fmt.Errorf("bridgetest: expected *types.Value, got %T", native)
	}
	return v, nil
}

func (b *Bridge) RegisterFunction(ctx context.Context, name string, address uintptr, sig *types.Signature, flags uint32) error {
	return nil
}

func (b *Bridge) CallFunction(ctx context.Context, name string, args []*types.Value) (*types.Value, error) {
	b.mu.Lock()
	if err, forced := b.failCall[name]; forced {
		delete(b.failCall, name)
		b.mu.Unlock()
		return nil, err
	}
	fn, ok := b.funcs[name]
	if ok {
		b.calls++
	}
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("bridgetest: no function registered for %q", name)
	}
	return fn(args)
}

func (b *Bridge) AcquireMemory(ctx context.Context, ptr uintptr, size int) (bridge.MemoryHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acquired[ptr]++
	return bridge.MemoryHandle{Ptr: ptr, Size: size}, nil
}

func (b *Bridge) ReleaseMemory(ctx context.Context, handle bridge.MemoryHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acquired[handle.Ptr] <= 0 {
		return fmt.Errorf("bridgetest: release of unacquired handle %v", handle)
	}
	b.acquired[handle.Ptr]--
	return nil
}

func (b *Bridge) HandleException(ctx context.Context, opaque any) bridge.ExceptionInfo {
	return bridge.ExceptionInfo{Kind: "bridge_failure", Message: fmt.Sprintf("%v", opaque)}
}

// Ping implements bridge.Pinger and always reports the bridge as live.
func (b *Bridge) Ping(ctx context.Context) error { return nil }

var _ bridge.Bridge = (*Bridge)(nil)
var _ bridge.Pinger = (*Bridge)(nil)
