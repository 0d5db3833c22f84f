package interfaces

import "market-streamer/src/models"

// -----------------------------------------------------------------------------

// IPublisher defines the interface for publishing stored observations
type IPublisher interface {
	// OnObservation publishes one observation; failures are logged, never returned.
	OnObservation(obs *models.MObservation)

	// Connect establishes connection to the message broker
	Connect() error

	// Disconnect closes the connection to the message broker
	Disconnect() error

	// IsConnected returns the current connection status
	IsConnected() bool
}
