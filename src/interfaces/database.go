package interfaces

import (
	"context"

	"market-streamer/src/models"
)

// -----------------------------------------------------------------------------
// IObservationSink is the commit-or-fail storage contract used by ingest handlers.
// -----------------------------------------------------------------------------

type IObservationSink interface {
	// UpsertObservation writes one observation as its own committed statement.
	// bar and trade insert; updated_bar updates the (symbol, time, interval) row or inserts it.
	// Failures are *helpers.ValidationError or *helpers.StorageError.
	UpsertObservation(ctx context.Context, obs *models.MObservation) error
}

// -----------------------------------------------------------------------------
// IDatabase defines the contract for storage operations.
// -----------------------------------------------------------------------------

type IDatabase interface {
	IObservationSink

	// -----------------------------------------------------------------------------

	// Initialize opens the connection and creates missing tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// GetSymbolsFromTable reads a watch-list column, optionally filtered by an equality on filterField.
	GetSymbolsFromTable(ctx context.Context, schema, table, field, filterField, filterValue string) ([]string, error)

	// -----------------------------------------------------------------------------

	// RegisterTrackedSymbols records the instrument set currently streamed for an asset class.
	RegisterTrackedSymbols(ctx context.Context, assetClass models.AssetClass, source string, symbols []string) error

	// -----------------------------------------------------------------------------

	// RefreshViews refreshes configured continuous aggregates after a trading session.
	RefreshViews(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
