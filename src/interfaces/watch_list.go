package interfaces

import (
	"context"

	"market-streamer/src/models"
	"market-streamer/src/utils"
)

// -----------------------------------------------------------------------------
// IWatchListSource returns the instruments that should currently be tracked.
// -----------------------------------------------------------------------------

type IWatchListSource interface {
	// Name returns the unique identifier of the source
	Name() string

	// ListSymbols polls the source. Any failure is a *helpers.SourceUnavailable
	// and must never be read as an empty set.
	ListSymbols(ctx context.Context, assetClass models.AssetClass) (utils.SymbolSet, error)
}
