// polycalld is the standalone Command Protocol server: it embeds a
// polycall.Context and exposes it over gRPC using the raw Command
// Protocol codec, so any language bridge speaking the wire format in
// internal/protocol can reach it without a native library binding.
//
// Usage:
//
//	go run ./cmd/polycalld                  # default :7611
//	go run ./cmd/polycalld -addr :8080 -config polycall.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/libpolycall/polycall-go/internal/apiserver"
	"github.com/libpolycall/polycall-go/internal/observability"
	"github.com/libpolycall/polycall-go/internal/pool"
	"github.com/libpolycall/polycall-go/internal/protocol"
	"github.com/libpolycall/polycall-go/internal/transport"
	"github.com/libpolycall/polycall-go/polycall"
)

// stdLogger implements transport.Logger using the standard library
// log package.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

func main() {
	addr := flag.String("addr", ":7611", "Command Protocol gRPC server address")
	configPath := flag.String("config", "", "optional JSON/YAML configuration file to load on startup")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP/gRPC collector endpoint; tracing stays disabled when left empty")
	remoteBridges := flag.String("remote-bridge", "", "comma-separated language=host:port pairs dialed as remote bridges on startup, e.g. python=localhost:7711")
	flag.Parse()

	logger := &stdLogger{}
	logger.Info("polycalld_starting", "version", polycall.GetVersion(), "address", *addr)

	if *otlpEndpoint != "" {
		shutdown, err := observability.InitTracer("polycalld", *otlpEndpoint)
		if err != nil {
			log.Fatalf("failed to init tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err)
			}
		}()
		logger.Info("tracing_enabled", "endpoint", *otlpEndpoint)
	}

	ctx, err := polycall.CreateContext(polycall.FlagCached)
	if err != nil {
		log.Fatalf("failed to create context: %v", err)
	}
	defer polycall.DestroyContext(ctx)

	if *configPath != "" {
		if err := ctx.LoadFile(*configPath); err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		logger.Info("config_loaded", "path", *configPath)
	}

	if *remoteBridges != "" {
		if err := connectRemoteBridges(ctx, logger, *remoteBridges); err != nil {
			log.Fatalf("failed to connect remote bridges: %v", err)
		}
	}

	reg := protocol.NewHandlerRegistry()
	if err := apiserver.Register(reg, ctx); err != nil {
		log.Fatalf("failed to register commands: %v", err)
	}
	logger.Info("commands_registered")

	adapter := transport.NewAdapter(reg, 0)
	adapter.SetState(protocol.StateActive)

	svc := transport.NewService(adapter)
	server := transport.NewGracefulServer(svc, logger, *addr)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("polycalld_ready", "address", *addr)
	if err := server.Start(signalCtx); err != nil && signalCtx.Err() == nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("polycalld_stopped")
}

// connectRemoteBridges dials every "language=host:port" pair in spec
// (comma-separated) as a Connection-Pool-backed remote bridge (C4 over
// C10/C11) and registers it with ctx.
func connectRemoteBridges(ctx *polycall.Context, logger *stdLogger, spec string) error {
	cfg := pool.Config{
		Initial:          1,
		Min:              1,
		Max:              8,
		Strategy:         pool.LIFO,
		IdleTimeout:      5 * time.Minute,
		Cooldown:         30 * time.Second,
		ScalingThreshold: 0.8,
		ValidateOnReturn: true,
	}

	for _, pair := range strings.Split(spec, ",") {
		language, addr, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid -remote-bridge entry %q, expected language=host:port", pair)
		}
		if err := ctx.ConnectRemoteBridge(context.Background(), language, addr, cfg, 30*time.Second); err != nil {
			return fmt.Errorf("dialing remote bridge %q at %s: %w", language, addr, err)
		}
		logger.Info("remote_bridge_connected", "language", language, "address", addr)
	}
	return nil
}
