// Package remote implements a bridge.Bridge (spec component C4) that
// reaches its target language over the wire instead of in-process:
// every CallFunction serializes its arguments as a Command Protocol
// (C10) "call" message and sends it over a gRPC connection borrowed
// from a Connection Pool (C11), realizing spec section 3's "remote
// calls additionally traverse C10 Command Protocol on top of a
// C11-pooled connection" data flow end to end.
//
// Grounded on internal/apiserver/commands.go's wire layout for the
// "call" command (this package is the client half of that exact
// contract) and internal/transport's raw-bytes gRPC codec.
package remote

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/libpolycall/polycall-go/internal/bridge"
	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/pool"
	"github.com/libpolycall/polycall-go/internal/protocol"
	"github.com/libpolycall/polycall-go/internal/transport"
	"github.com/libpolycall/polycall-go/internal/typemap"
	"github.com/libpolycall/polycall-go/internal/types"
)

// Command ids and "call" parameter layout mirror
// internal/apiserver/commands.go exactly (spec 4.10's fixed wire
// format). Duplicated here rather than imported: apiserver already
// depends on package polycall, which depends on this package, so
// importing apiserver would cycle.
const (
	commandPing uint32 = 1
	commandCall uint32 = 3

	callParamLanguage = 0
	callParamFunction = 1
	callParamFirstArg = 2
)

// conn wraps a dialed *grpc.ClientConn so it additionally satisfies
// bridge.Pinger, giving the Connection Pool's validate() step a real
// liveness probe against the remote polycalld instead of the
// staleness fallback.
type conn struct {
	*grpc.ClientConn
}

func (c *conn) Ping(ctx context.Context) error {
	msg := protocol.Encode(protocol.Message{Version: protocol.CurrentVersion, CommandID: commandPing})
	respBytes, err := transport.Call(ctx, c.ClientConn, msg)
	if err != nil {
		return err
	}
	resp, err := protocol.DecodeResponse(respBytes)
	if err != nil {
		return err
	}
	if resp.Status != 0 {
		return perr.Newf(perr.BridgeFailure, "ping failed: %s", resp.ErrorMessage)
	}
	return nil
}

var _ pool.Conn = (*conn)(nil)
var _ bridge.Pinger = (*conn)(nil)

// Bridge is a bridge.Bridge that dispatches every call to a remote
// polycalld instance over a pooled gRPC connection.
type Bridge struct {
	language string
	pool     *pool.Pool
	timeout  time.Duration
}

// Dial builds a Bridge whose Connection Pool dials addr under cfg's
// sizing policy. cfg.Name defaults to language if left blank, so the
// pool's utilization gauge is labeled per remote language by default.
// Every dialed connection carries transport.ClientDialOptions, so
// trace context propagates to the remote server's own otelgrpc
// interceptor.
func Dial(ctx context.Context, language, addr string, cfg pool.Config, callTimeout time.Duration) (*Bridge, error) {
	if cfg.Name == "" {
		cfg.Name = language
	}
	factory := func(ctx context.Context) (pool.Conn, error) {
		opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, transport.ClientDialOptions()...)
		cc, err := grpc.NewClient(addr, opts...)
		if err != nil {
			return nil, err
		}
		return &conn{cc}, nil
	}
	p, err := pool.New(ctx, cfg, factory)
	if err != nil {
		return nil, err
	}
	return &Bridge{language: language, pool: p, timeout: callTimeout}, nil
}

func (b *Bridge) Language() string { return b.language }

func (b *Bridge) Initialize(ctx context.Context) error { return nil }

// Cleanup closes every pooled connection.
func (b *Bridge) Cleanup(ctx context.Context) error { return b.pool.Close() }

// ConvertToNative/ConvertFromNative are identity operations for a
// remote bridge: the "native representation" the call crosses into is
// the Command Protocol's own serialized wire form, produced and
// consumed entirely inside CallFunction, so there is no separate
// native handle to hold in between.
func (b *Bridge) ConvertToNative(ctx context.Context, value *types.Value, dstType *types.Descriptor) (any, error) {
	return value, nil
}

func (b *Bridge) ConvertFromNative(ctx context.Context, native any, srcType *types.Descriptor) (*types.Value, error) {
	v, ok := native.(*types.Value)
	if !ok {
		return nil, perr.Newf(perr.ConversionFailed, "remote bridge: expected *types.Value, got %T", native)
	}
	return v, nil
}

// RegisterFunction is a no-op: a remote bridge's functions are
// registered on the remote polycalld's own registry out of band, not
// through this process's RegisterFunction call.
func (b *Bridge) RegisterFunction(ctx context.Context, name string, address uintptr, sig *types.Signature, flags uint32) error {
	return nil
}

// CallFunction encodes name and args as a Command Protocol "call"
// message, sends it over a pooled gRPC connection, and decodes the
// response back into a core Value.
func (b *Bridge) CallFunction(ctx context.Context, name string, args []*types.Value) (*types.Value, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	c, err := b.pool.Acquire(ctx, b.timeout)
	if err != nil {
		return nil, perr.Wrap(perr.BridgeFailure, "failed to acquire a pooled connection", err)
	}
	gc := c.(*conn)
	// transportHealthy tracks the connection itself, not the call
	// outcome: a serialization bug or a remote-side SIGNATURE_MISMATCH
	// doesn't mean the pooled connection is broken, but a failed RPC
	// does (spec 4.11's should_close rule extends naturally here).
	transportHealthy := true
	defer func() { _ = b.pool.Release(ctx, c, !transportHealthy) }()

	langParam, err := serializeParam(callParamLanguage, types.NewString(b.language, false))
	if err != nil {
		return nil, err
	}
	funcParam, err := serializeParam(callParamFunction, types.NewString(name, false))
	if err != nil {
		return nil, err
	}
	params := []protocol.Param{langParam, funcParam}
	for i, arg := range args {
		p, err := serializeParam(uint16(callParamFirstArg+i), arg)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}

	reqBytes := protocol.Encode(protocol.Message{Version: protocol.CurrentVersion, CommandID: commandCall, Params: params})
	respBytes, err := transport.Call(ctx, gc.ClientConn, reqBytes)
	if err != nil {
		transportHealthy = false
		return nil, perr.Wrap(perr.BridgeFailure, "remote call transport failed", err)
	}

	resp, err := protocol.DecodeResponse(respBytes)
	if err != nil {
		transportHealthy = false
		return nil, err
	}
	if resp.Status != 0 {
		return nil, perr.New(perr.Code(resp.ErrorCode), resp.ErrorMessage)
	}

	result, _, err := typemap.Deserialize(resp.Result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func serializeParam(id uint16, v *types.Value) (protocol.Param, error) {
	data, err := typemap.Serialize(v)
	if err != nil {
		return protocol.Param{}, err
	}
	return protocol.Param{ID: id, Type: uint8(v.Tag), Data: data}, nil
}

// AcquireMemory/ReleaseMemory are no-ops for a remote bridge: argument
// bytes are copied onto the wire rather than pinned in shared memory,
// so there is no cross-boundary buffer to track.
func (b *Bridge) AcquireMemory(ctx context.Context, ptr uintptr, size int) (bridge.MemoryHandle, error) {
	return bridge.MemoryHandle{Ptr: ptr, Size: size}, nil
}

func (b *Bridge) ReleaseMemory(ctx context.Context, handle bridge.MemoryHandle) error { return nil }

// HandleException reports the remote error string verbatim; the
// remote polycalld's own dispatcher has already classified it into a
// perr.Code, carried as resp.ErrorCode in CallFunction above.
func (b *Bridge) HandleException(ctx context.Context, opaque any) bridge.ExceptionInfo {
	return bridge.ExceptionInfo{Kind: "remote_error", Message: formatOpaque(opaque)}
}

func formatOpaque(opaque any) string {
	if err, ok := opaque.(error); ok {
		return err.Error()
	}
	return "remote bridge exception"
}

// Ping implements bridge.Pinger by acquiring and immediately
// releasing a connection, exercising the same liveness path the pool
// itself uses.
func (b *Bridge) Ping(ctx context.Context) error {
	c, err := b.pool.Acquire(ctx, b.timeout)
	if err != nil {
		return err
	}
	defer func() { _ = b.pool.Release(ctx, c, false) }()
	return c.(*conn).Ping(ctx)
}

var _ bridge.Bridge = (*Bridge)(nil)
var _ bridge.Pinger = (*Bridge)(nil)
