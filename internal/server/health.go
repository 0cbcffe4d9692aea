package server

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SimulationService is the health service name reported alongside the
// server-wide "" entry.
const SimulationService = "simverse.Simulation"

// HealthService exposes grpc.health.v1.Health. It starts NOT_SERVING and
// implements Readiness so a Lifecycle can flip it.
type HealthService struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger *zap.Logger
}

// NewHealthService binds addr and registers the health service.
//
// Postcondition: Returns a bound, not yet serving HealthService or a non-nil error.
func NewHealthService(addr string, logger *zap.Logger) (*HealthService, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	h := &HealthService{grpc: gs, health: hs, lis: lis, logger: logger}
	h.SetServing(false)
	return h, nil
}

// Addr returns the bound listener address.
func (h *HealthService) Addr() net.Addr {
	return h.lis.Addr()
}

// SetServing reports serving or not serving for both service names.
func (h *HealthService) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(SimulationService, status)
	h.logger.Debug("health status changed", zap.String("status", status.String()))
}

// Start serves gRPC until Stop is called.
func (h *HealthService) Start() error {
	h.logger.Info("health service listening", zap.String("addr", h.lis.Addr().String()))
	if err := h.grpc.Serve(h.lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the gRPC server gracefully.
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
