// Package grpc serves the standard health service so orchestrators can probe
// the chat node over gRPC.
package grpc

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"convohub/internal/observability"
)

// ServiceName is the health entry reported alongside the overall "" entry.
const ServiceName = "convohub.Chat"

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

type Server struct {
	srv    *grpclib.Server
	health *health.Server
	checks map[string]Checker
	log    *zap.Logger
}

func NewServer(log *zap.Logger) *Server {
	srv := grpclib.NewServer(
		grpclib.StatsHandler(otelgrpc.NewServerHandler()),
		grpclib.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{srv: srv, health: hs, checks: map[string]Checker{}, log: log}
}

// AddCheck registers a dependency probe, e.g. the store ping.
func (s *Server) AddCheck(name string, check Checker) {
	s.checks[name] = check
}

// Refresh runs every check once and publishes the aggregate status.
func (s *Server) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch refreshes the status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
	return s.srv.Serve(lis)
}

// Stop marks the node as draining before stopping the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
