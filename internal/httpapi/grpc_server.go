package httpapi

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"apishield.io/internal/obs"
)

const grpcServiceName = "apishield-api"

// healthService exposes the standard gRPC health protocol backed by the
// same readiness probe the HTTP /readyz endpoint uses.
type healthService struct {
	healthpb.UnimplementedHealthServer
	probe ReadyProbe
}

func (h *healthService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if req.GetService() != "" && req.GetService() != grpcServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	if err := h.probe.Check(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func (h *healthService) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}

// GRPCServer serves health checks for load balancers and orchestrators
// that speak gRPC rather than HTTP.
type GRPCServer struct {
	srv  *grpc.Server
	addr string
}

func NewGRPCServer(addr string, probe ReadyProbe) *GRPCServer {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, &healthService{probe: probe})
	return &GRPCServer{srv: s, addr: addr}
}

// Serve blocks until the listener fails or GracefulStop is called.
func (g *GRPCServer) Serve() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return err
	}
	obs.Event("info", "grpc_listening", map[string]any{"addr": g.addr})
	return g.srv.Serve(lis)
}

func (g *GRPCServer) GracefulStop() {
	g.srv.GracefulStop()
}
