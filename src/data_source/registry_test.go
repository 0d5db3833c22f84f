package datasource

import (
	"context"
	"io"
	"testing"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFactory struct{ cfg *models.MAssetClassConfig }

func (f *stubFactory) Open(ctx context.Context, assetClass models.AssetClass, creds models.MCredentials) (interfaces.ISession, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	logger.SetOutput(io.Discard)
	log := logger.NewLogger(nil, "registry-test")

	ctor := func(cfg *models.MAssetClassConfig, log *logger.Logger) (interfaces.ISessionFactory, error) {
		return &stubFactory{cfg: cfg}, nil
	}

	require.NoError(t, Register("stub-vendor", ctor))
	assert.Error(t, Register("stub-vendor", ctor), "duplicate registration must fail")
	assert.Contains(t, Vendors(), "stub-vendor")

	cfg := &models.MAssetClassConfig{Name: "equity", Vendor: "stub-vendor"}
	factory, err := NewSessionFactory(cfg, log)
	require.NoError(t, err)
	assert.Same(t, cfg, factory.(*stubFactory).cfg)

	_, err = NewSessionFactory(&models.MAssetClassConfig{Name: "equity", Vendor: "nope"}, log)
	assert.Error(t, err)
}

func TestMustRegister_DuplicatePanics(t *testing.T) {
	ctor := func(cfg *models.MAssetClassConfig, log *logger.Logger) (interfaces.ISessionFactory, error) {
		return &stubFactory{cfg: cfg}, nil
	}

	assert.NotPanics(t, func() { MustRegister("must-vendor", ctor) })
	assert.PanicsWithError(t, "session constructor already registered for vendor: must-vendor", func() {
		MustRegister("must-vendor", ctor)
	})
}
