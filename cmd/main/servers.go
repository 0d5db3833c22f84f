package main

import (
	"context"

	"market-streamer/src/config"
	"market-streamer/src/grpc_control"
	"market-streamer/src/logger"
	"market-streamer/src/server"
)

// -----------------------------------------------------------------------------

// setupServers builds the REST/websocket server and the gRPC health service.
func setupServers(cfg *config.Config) (*server.FastAPIServer, *grpc_control.HealthService) {
	srv := server.NewFastAPIServer(cfg.MConfig, logger.NewLogger(cfg.MConfig, "Server"))
	health := grpc_control.NewHealthService(cfg.MConfig, logger.NewLogger(cfg.MConfig, "GRPC"))
	return srv, health
}

// startServers starts the listeners that have a port configured. Their
// failures are logged; ingest keeps running without them.
func startServers(cfg *config.Config, srv *server.FastAPIServer, health *grpc_control.HealthService, appLogger *logger.Logger) {
	if cfg.Port != 0 {
		go func() {
			if err := srv.Start(); err != nil {
				appLogger.Error("Server failed: %v", err)
			}
		}()
	} else {
		appLogger.Info("REST server disabled (no port configured)")
	}

	if cfg.GrpcPort != 0 {
		if err := health.Listen(); err != nil {
			appLogger.Error("gRPC health disabled: %v", err)
			return
		}
		go func() {
			if err := health.Start(); err != nil {
				appLogger.Error("gRPC server failed: %v", err)
			}
		}()
	} else {
		appLogger.Info("gRPC health disabled (no port configured)")
	}
}

// stopServers shuts both servers down within ctx.
func stopServers(ctx context.Context, srv *server.FastAPIServer, health *grpc_control.HealthService, appLogger *logger.Logger) {
	if err := srv.Stop(ctx); err != nil {
		appLogger.Warning("Server shutdown: %v", err)
	}
	if err := health.Stop(ctx); err != nil {
		appLogger.Warning("gRPC shutdown: %v", err)
	}
}
