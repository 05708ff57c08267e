package api

import (
	"log"
	"net"

	"CaptureBridge/internal/model"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported next to the overall status.
const HealthService = "capturebridge.Bridge"

// HealthServer serves the standard gRPC health protocol. The bridge is
// SERVING only while the agent connection is up.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

// NewHealthServer creates a HealthServer reporting NOT_SERVING.
func NewHealthServer() *HealthServer {
	h := &HealthServer{grpcServer: grpc.NewServer(), health: health.NewServer()}
	healthpb.RegisterHealthServer(h.grpcServer, h.health)
	h.SetState(model.StateDisconnected)
	return h
}

// SetState maps a connection state onto the health status. It has the
// signature of a model.StateListener.
func (h *HealthServer) SetState(state model.ConnectionState) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == model.StateConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
}

// Serve accepts gRPC connections on lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	log.Printf("gRPC health server listening at %v", lis.Addr())
	return h.grpcServer.Serve(lis)
}

// Stop marks every service NOT_SERVING and closes the server. Watch streams
// would keep a graceful stop waiting forever, so connections are cut.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpcServer.Stop()
}
