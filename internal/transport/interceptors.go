package transport

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Logger is redeclared locally per the teacher's per-package Logger
// convention rather than imported from one shared logging package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// LoggingInterceptor logs the start, duration, and outcome of every
// unary RPC.
func LoggingInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		logger.Debug("grpc_request_started", "method", info.FullMethod)

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if err != nil {
			st, _ := status.FromError(err)
			logger.Error("grpc_request_failed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", st.Code().String(),
				"error", err.Error(),
			)
		} else {
			logger.Debug("grpc_request_completed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}
		return resp, err
	}
}

// RecoveryHandler turns a recovered panic value into the error
// returned to the client.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns an Internal status carrying the
// panic value.
func DefaultRecoveryHandler(p any) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// RecoveryInterceptor contains a panicking handler within a single
// RPC instead of taking the server down.
func RecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, grpcHandler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("grpc_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", string(debug.Stack()),
				)
				err = handler(p)
			}
		}()
		return grpcHandler(ctx, req)
	}
}

// ChainUnaryInterceptors composes interceptors so the first argument
// runs outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			currentHandler := chain
			chain = func(ctx context.Context, req any) (any, error) {
				return interceptor(ctx, req, info, currentHandler)
			}
		}
		return chain(ctx, req)
	}
}

// ServerOptions builds the standard trace+recovery+logging interceptor
// chain plus the raw Command Protocol codec every polycalld server
// should run with. otelgrpc runs outermost so the span it opens from
// the incoming request's trace context covers recovery and logging
// too, and is the parent of the dispatcher's own polycall.dispatch
// span.
func ServerOptions(logger Logger) []grpc.ServerOption {
	unary := ChainUnaryInterceptors(
		otelgrpc.UnaryServerInterceptor(),
		RecoveryInterceptor(logger, nil),
		LoggingInterceptor(logger),
	)
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(unary),
		grpc.ForceServerCodec(rawCodec{}),
	}
}

// ClientDialOptions returns the dial options every polycalld client —
// in particular the Connection Pool's (C11) dial factory — should use
// so outgoing Command Protocol calls carry trace context to the
// remote server's otelgrpc-instrumented ServerOptions above.
func ClientDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithUnaryInterceptor(otelgrpc.UnaryClientInterceptor()),
	}
}
