package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	healthhandler "identity-service/backend/internal/health/handler"
)

// NewGRPCServer returns a gRPC server instrumented with OpenTelemetry, with the standard health
// service registered.
func NewGRPCServer(health *healthhandler.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, health)
	return s
}

// RegisterServices registers every gRPC service the identity service exposes.
func RegisterServices(s grpc.ServiceRegistrar, health *healthhandler.Server) {
	health.Register(s)
}
