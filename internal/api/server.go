package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-regress/internal/config"
)

var errNotListening = errors.New("api: server has no listener")

// Server owns the listener, the gRPC server and its health registry.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	rpc      *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewServer listens on cfg.Address and registers the regression service,
// health checks and, when enabled, reflection.
func NewServer(cfg config.ServerConfig, service RegressionServer, logger *slog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	s := &Server{cfg: cfg, logger: logger, listener: lis, health: health.NewServer()}

	grpc_prometheus.EnableHandlingTimeHistogram()
	chain := grpc.ChainUnaryInterceptor(
		grpc_prometheus.UnaryServerInterceptor,
		s.recoverUnary,
		s.logUnary,
	)
	s.rpc = grpc.NewServer(append([]grpc.ServerOption{
		chain,
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}, opts...)...)

	RegisterRegressionServer(s.rpc, service)
	healthpb.RegisterHealthServer(s.rpc, s.health)
	for _, name := range []string{"", ServiceName} {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	if cfg.Reflection {
		reflection.Register(s.rpc)
	}
	grpc_prometheus.Register(s.rpc)
	return s, nil
}

// Start blocks serving requests until the server is shut down.
func (s *Server) Start() error {
	if s.listener == nil {
		return errNotListening
	}
	err := s.rpc.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Shutdown marks the service NOT_SERVING, drains in-flight calls and forces a
// stop once ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		s.rpc.GracefulStop()
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("graceful drain timed out, forcing stop")
		s.rpc.Stop()
	}
}

// Address is the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout bounds Shutdown when callers build their own context.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}

func (s *Server) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return next(ctx, req)
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	began := time.Now()
	resp, err := next(ctx, req)
	code := status.Code(err)
	level := slog.LevelDebug
	if code != codes.OK && code != codes.Canceled {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "rpc", "method", info.FullMethod, "code", code.String(), "elapsed", time.Since(began))
	return resp, err
}
