package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server exposes the Checker through the standard grpc.health.v1.Health service, both for the
// empty service name and for ServiceName.
type Server struct {
	checker *Checker
	health  *health.Server
}

// NewServer returns a health server whose status follows checker.
func NewServer(checker *Checker) *Server {
	return &Server{checker: checker, health: health.NewServer()}
}

// Register adds the health service to srv.
func (s *Server) Register(srv grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Sync runs one check and publishes the result.
func (s *Server) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if !s.checker.Check(ctx).Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Run syncs every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Sync(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sync(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so clients drain before the listener closes.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}
