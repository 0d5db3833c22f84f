package interfaces

import (
	"context"

	"market-streamer/src/models"
)

// -----------------------------------------------------------------------------
// IStatusReporter receives a snapshot on every lifecycle transition.
// -----------------------------------------------------------------------------

type IStatusReporter interface {
	OnStatus(status models.MSessionStatus)
}

// -----------------------------------------------------------------------------
// IDataExchanger shares live state with external listeners (REST, websocket, gRPC health).
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	IStatusReporter

	// -----------------------------------------------------------------------------
	// OnObservation pushes a stored observation to live listeners.
	OnObservation(obs *models.MObservation)

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop(ctx context.Context) error
}
