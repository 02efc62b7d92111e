// Package apiserver registers the concrete Command Protocol commands
// a polycalld server exposes over the wire, bridging a decoded
// protocol.Message to the embedded library surface in package
// polycall. Grounded on coreengine/kernel/services.go's pattern of a
// thin registration function wiring named operations to a
// composition-root struct's methods.
package apiserver

import (
	"context"
	"encoding/json"

	"github.com/libpolycall/polycall-go/internal/dispatch"
	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/protocol"
	"github.com/libpolycall/polycall-go/internal/types"
	"github.com/libpolycall/polycall-go/internal/typemap"
	"github.com/libpolycall/polycall-go/polycall"
)

// Command ids exposed by this build. A deployment that adds commands
// should keep allocating upward from here to avoid colliding with a
// future core-assigned range.
const (
	CommandPing     uint32 = 1
	CommandGetInfo  uint32 = 2
	CommandCall     uint32 = 3
)

// Call's wire layout: param 0 is the serialized (typemap.Serialize)
// language string, param 1 the serialized function name string, and
// every remaining param is one serialized argument in order.
const (
	callParamLanguage = 0
	callParamFunction = 1
	callParamFirstArg = 2
)

// Register wires the standard command set onto reg, dispatching
// through ctx. Every command is allowed in every protocol state except
// Call, which additionally requires StateActive (a connection must
// have completed whatever handshake the deployment's state machine
// defines before it may invoke user functions).
func Register(reg *protocol.HandlerRegistry, ctx *polycall.Context) error {
	if err := reg.Register(protocol.HandlerEntry{
		ID:      CommandPing,
		Name:    "ping",
		Handler: pingHandler,
	}); err != nil {
		return err
	}
	if err := reg.Register(protocol.HandlerEntry{
		ID:      CommandGetInfo,
		Name:    "get_info",
		Handler: getInfoHandler(ctx),
	}); err != nil {
		return err
	}
	if err := reg.Register(protocol.HandlerEntry{
		ID:            CommandCall,
		Name:          "call",
		AllowedStates: protocol.StateActive,
		Handler:       callHandler(ctx),
	}); err != nil {
		return err
	}
	return nil
}

func pingHandler(ctx context.Context, m protocol.Message) (protocol.Response, error) {
	return protocol.Response{Status: 0, Result: []byte("pong")}, nil
}

// wireInfo mirrors polycall.Info with JSON tags; get_info's payload is
// plain JSON rather than a typemap-serialized Value since it reports
// aggregate counts, not a function's return value.
type wireInfo struct {
	LanguageCount int `json:"language_count"`
	FunctionCount int `json:"function_count"`
	TypeCount     int `json:"type_count"`
}

func getInfoHandler(ctx *polycall.Context) protocol.Handler {
	return func(c context.Context, m protocol.Message) (protocol.Response, error) {
		info, err := ctx.GetInfo()
		if err != nil {
			return protocol.Response{}, err
		}
		payload, err := json.Marshal(wireInfo{
			LanguageCount: info.LanguageCount,
			FunctionCount: info.FunctionCount,
			TypeCount:     info.TypeCount,
		})
		if err != nil {
			return protocol.Response{}, perr.Wrap(perr.InvalidArgument, "failed to encode get_info response", err)
		}
		return protocol.Response{Status: 0, Result: payload}, nil
	}
}

func callHandler(ctx *polycall.Context) protocol.Handler {
	return func(c context.Context, m protocol.Message) (protocol.Response, error) {
		if len(m.Params) < callParamFirstArg {
			return protocol.Response{}, perr.New(perr.InvalidArgument, "call requires language and function parameters")
		}

		language, err := deserializeString(m.Params[callParamLanguage].Data)
		if err != nil {
			return protocol.Response{}, err
		}
		function, err := deserializeString(m.Params[callParamFunction].Data)
		if err != nil {
			return protocol.Response{}, err
		}

		args := make([]*types.Value, 0, len(m.Params)-callParamFirstArg)
		for _, p := range m.Params[callParamFirstArg:] {
			v, _, err := typemap.Deserialize(p.Data)
			if err != nil {
				return protocol.Response{}, err
			}
			args = append(args, v)
		}

		result, err := ctx.CallFunction(c, dispatch.Request{
			Language: language,
			Function: function,
			Args:     args,
		})
		if err != nil {
			return protocol.Response{}, err
		}

		payload, err := typemap.Serialize(result.Value)
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Status: 0, Result: payload}, nil
	}
}

func deserializeString(data []byte) (string, error) {
	v, _, err := typemap.Deserialize(data)
	if err != nil {
		return "", err
	}
	s, ok := v.AsString()
	if !ok {
		return "", perr.New(perr.TypeMismatch, "expected a string parameter")
	}
	return s, nil
}
