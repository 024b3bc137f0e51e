package health

import (
	"fmt"
	"net"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service name reported next to the overall status.
const ServiceName = "task-tracker"

// Server exposes grpc.health.v1 for orchestrators probing the tracker.
type Server struct {
	addr       string
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

func NewServer(addr string) *Server {
	return &Server{
		addr:       addr,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
}

// Start listens and serves in the background, reporting SERVING.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen for gRPC health on %s: %w", s.addr, err)
	}
	s.listener = lis

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			hlog.Errorf("HealthServer: serve error: %v", err)
		}
	}()
	hlog.Infof("HealthServer: gRPC health service listening on %s", lis.Addr())
	return nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop flips every service to NOT_SERVING and drains connections.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	hlog.Info("HealthServer: gRPC health service stopped.")
}
