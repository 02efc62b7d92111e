package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// GracefulServer wraps a *grpc.Server hosting the Command Protocol
// service with graceful-shutdown support, mirroring the teacher's
// coreengine/grpc.GracefulServer.
type GracefulServer struct {
	grpcServer *grpc.Server
	logger     Logger
	address    string

	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a server hosting svc at address. opts
// defaults to ServerOptions(logger) when empty.
func NewGracefulServer(svc *Service, logger Logger, address string, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		opts = ServerOptions(logger)
	}
	grpcServer := grpc.NewServer(opts...)
	grpcServer.RegisterService(&ServiceDesc, svc)

	return &GracefulServer{
		grpcServer: grpcServer,
		logger:     logger,
		address:    address,
	}
}

// Start listens on s.address and blocks until ctx is cancelled, at
// which point it performs a graceful shutdown.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("grpc_server_started", "address", s.address)

	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated", "reason", ctx.Err().Error())
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop stops accepting new RPCs and waits for in-flight ones
// to finish.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true
	s.logger.Info("grpc_graceful_stop_started")
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout attempts a graceful stop, forcing an immediate
// stop if it doesn't complete within timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout", "timeout_ms", timeout.Milliseconds())
		s.shutdownMu.Lock()
		s.isShutdown = true
		s.shutdownMu.Unlock()
		s.grpcServer.Stop()
	}
}
