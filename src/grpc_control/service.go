package grpc_control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix names the per-asset-class health services.
const ServicePrefix = "market-streamer."

// ServiceName is the health service of one asset class.
func ServiceName(ac models.AssetClass) string {
	return ServicePrefix + string(ac)
}

// -----------------------------------------------------------------------------
// HealthService publishes controller states on the standard gRPC health API
// -----------------------------------------------------------------------------

type HealthService struct {
	Config *models.MConfig
	Logger *logger.Logger

	server   *grpc.Server
	health   *health.Server
	listener net.Listener

	mu     sync.Mutex
	states map[models.AssetClass]models.ControllerState
}

var _ interfaces.IStatusReporter = (*HealthService)(nil)

// -----------------------------------------------------------------------------

func NewHealthService(cfg *models.MConfig, log *logger.Logger) *HealthService {
	serverOptions := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(1024 * 1024),
		grpc.MaxSendMsgSize(1024 * 1024),
	}
	server := grpc.NewServer(serverOptions...)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	for _, ac := range cfg.AssetClasses {
		hs.SetServingStatus(ServiceName(models.AssetClass(ac.Name)), grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	return &HealthService{
		Config: cfg,
		Logger: log,
		server: server,
		health: hs,
		states: make(map[models.AssetClass]models.ControllerState),
	}
}

// -----------------------------------------------------------------------------

// OnStatus maps a controller state onto its health service: SERVING while
// RUNNING. The overall service stays SERVING while any class is not HALTED.
func (g *HealthService) OnStatus(st models.MSessionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, known := g.states[st.AssetClass]
	g.states[st.AssetClass] = st.State

	serving := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if st.State == models.StateRunning {
		serving = grpc_health_v1.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(ServiceName(st.AssetClass), serving)

	overall := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	for _, state := range g.states {
		if state != models.StateHalted {
			overall = grpc_health_v1.HealthCheckResponse_SERVING
			break
		}
	}
	g.health.SetServingStatus("", overall)

	if !known || prev != st.State {
		g.Logger.Debug("health %s -> %s (overall %s)", ServiceName(st.AssetClass), serving, overall)
	}
}

// Check is a local shortcut to the health server, used by tests and the REST layer.
func (g *HealthService) Check(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	resp, err := g.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// -----------------------------------------------------------------------------

// Listen binds the configured address.
func (g *HealthService) Listen() error {
	address := fmt.Sprintf("%s:%d", g.Config.GrpcHost, g.Config.GrpcPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	g.listener = listener
	return nil
}

// Addr is the bound address, empty before Listen.
func (g *HealthService) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Start serves until Stop. It blocks.
func (g *HealthService) Start() error {
	if g.listener == nil {
		if err := g.Listen(); err != nil {
			return err
		}
	}

	g.Logger.Info("Starting gRPC health service on %s", g.Addr())
	if err := g.server.Serve(g.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop gracefully stops the gRPC server, forcing it when ctx expires.
func (g *HealthService) Stop(ctx context.Context) error {
	g.Logger.Info("Stopping gRPC health service...")
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	select {
	case <-ctx.Done():
		g.Logger.Warning("gRPC graceful shutdown timeout, forcing stop...")
		g.server.Stop()
	case <-done:
	}

	g.Logger.Info("gRPC health service stopped")
	return nil
}
