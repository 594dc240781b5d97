// Package health exposes the standard gRPC health service so orchestrators
// can check the process on a port separate from client traffic.
package health

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the named service reported alongside the overall ("") status.
const Service = "duel.Rooms"

// Server serves grpc.health.v1.Health. It implements server.Service.
type Server struct {
	addr   string
	logger *zap.Logger
	grpc   *grpc.Server
	health *grpchealth.Server

	mu  sync.Mutex
	lis net.Listener
}

// NewServer creates a health server for addr. Both the overall status and
// Service start as NOT_SERVING until Start.
//
// Precondition: logger must be non-nil.
func NewServer(addr string, logger *zap.Logger) *Server {
	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	return &Server{addr: addr, logger: logger, grpc: gs, health: hs}
}

// Listen binds the listener without serving. Start calls it if needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.lis = lis
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.addr
}

// Start marks the process SERVING and serves until Stop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.SetServing(true)
	s.logger.Info("gRPC health listening", zap.String("addr", s.Addr()))
	if err := s.grpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// SetServing flips every reported status between SERVING and NOT_SERVING.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// Stop reports NOT_SERVING to watchers, then drains and stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
