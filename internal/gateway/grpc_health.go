package gateway

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service name reported by the gRPC health endpoint
// besides the overall "" entry.
const HealthServiceName = "otpgate.Gateway"

// HealthServer serves grpc.health.v1.Health for orchestrators that probe over gRPC.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
	logger zerolog.Logger
}

// StartGRPCHealth listens on addr (e.g. ":9090") and reports SERVING until
// SetServing(false) or Stop is called.
func StartGRPCHealth(addr string, logger zerolog.Logger) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	h := &HealthServer{srv: srv, health: hs, lis: lis, logger: logger}
	h.SetServing(true)

	go func() {
		logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health endpoint listening")
		if err := srv.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	return h, nil
}

// Addr returns the bound listen address.
func (h *HealthServer) Addr() string {
	return h.lis.Addr().String()
}

// SetServing flips the reported status of the gateway.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthServiceName, status)
}

// Stop reports NOT_SERVING and shuts the server down gracefully, forcing it
// closed if ctx expires first.
func (h *HealthServer) Stop(ctx context.Context) error {
	h.health.Shutdown()

	done := make(chan struct{})
	go func() {
		h.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.srv.Stop()
		return ctx.Err()
	}
}
