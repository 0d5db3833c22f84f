package grpc_control

import (
	"context"
	"io"
	"testing"
	"time"

	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func newTestHealth(t *testing.T) *HealthService {
	t.Helper()
	logger.SetOutput(io.Discard)
	return NewHealthService(&models.MConfig{
		GrpcHost: "127.0.0.1",
		AssetClasses: []models.MAssetClassConfig{
			{Name: "equity"},
			{Name: "crypto"},
		},
	}, logger.NewLogger(nil, "grpc-test"))
}

func check(t *testing.T, g *HealthService, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	st, err := g.Check(context.Background(), service)
	require.NoError(t, err)
	return st
}

func TestHealthService_StateMapping(t *testing.T) {
	g := newTestHealth(t)
	serving := grpc_health_v1.HealthCheckResponse_SERVING
	notServing := grpc_health_v1.HealthCheckResponse_NOT_SERVING

	assert.Equal(t, notServing, check(t, g, ""), "nothing reported yet")
	assert.Equal(t, notServing, check(t, g, "market-streamer.equity"))

	steps := []struct {
		ac      models.AssetClass
		state   models.ControllerState
		class   grpc_health_v1.HealthCheckResponse_ServingStatus
		overall grpc_health_v1.HealthCheckResponse_ServingStatus
	}{
		{models.AssetClassEquity, models.StateStopped, notServing, serving},
		{models.AssetClassEquity, models.StateRunning, serving, serving},
		{models.AssetClassCrypto, models.StateHalted, notServing, serving},
		{models.AssetClassEquity, models.StateRestarting, notServing, serving},
		{models.AssetClassEquity, models.StateHalted, notServing, notServing},
	}
	for _, s := range steps {
		g.OnStatus(models.MSessionStatus{AssetClass: s.ac, State: s.state})
		assert.Equal(t, s.class, check(t, g, ServiceName(s.ac)), "%s %s", s.ac, s.state)
		assert.Equal(t, s.overall, check(t, g, ""), "overall after %s %s", s.ac, s.state)
	}

	_, err := g.Check(context.Background(), "market-streamer.options")
	assert.Error(t, err)
}

func TestHealthService_ServesOverNetwork(t *testing.T) {
	g := newTestHealth(t)
	require.NoError(t, g.Listen())

	go g.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		g.Stop(ctx)
	}()

	g.OnStatus(models.MSessionStatus{AssetClass: models.AssetClassCrypto, State: models.StateRunning})

	conn, err := grpc.NewClient(g.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName(models.AssetClassCrypto)})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
