package transport

import (
	"context"

	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/protocol"
)

// Adapter implements CommandExecutor by decoding a wire Message,
// running it through a protocol.HandlerRegistry, and re-encoding the
// Response. It tracks one protocol.State per adapter instance; a
// server that needs per-connection state machines should construct
// one Adapter per accepted connection.
type Adapter struct {
	registry *protocol.HandlerRegistry
	state    protocol.State
	mask     uint32
}

// NewAdapter creates an Adapter starting in StateIdle.
func NewAdapter(registry *protocol.HandlerRegistry, effectiveMask uint32) *Adapter {
	return &Adapter{registry: registry, state: protocol.StateIdle, mask: effectiveMask}
}

// SetState transitions the adapter's tracked protocol state, e.g.
// after an out-of-band authentication handshake completes.
func (a *Adapter) SetState(s protocol.State) { a.state = s }

// ExecuteWire satisfies CommandExecutor.
func (a *Adapter) ExecuteWire(ctx context.Context, requestBytes []byte) ([]byte, error) {
	msg, err := protocol.Decode(requestBytes)
	if err != nil {
		resp := protocol.Response{Status: 1, ErrorCode: int32(perr.CodeOf(err)), ErrorMessage: err.Error()}
		return protocol.EncodeResponse(resp), nil
	}

	resp, err := a.registry.Execute(ctx, msg, a.state, a.mask)
	if err != nil {
		resp = protocol.Response{Status: 1, ErrorCode: int32(perr.CodeOf(err)), ErrorMessage: err.Error()}
	}
	return protocol.EncodeResponse(resp), nil
}
