package watchlist

import (
	"context"

	"market-streamer/src/models"
	"market-streamer/src/utils"
)

// StaticSource serves the symbols listed in the config file.
type StaticSource struct {
	symbols utils.SymbolSet
}

func NewStaticSource(symbols []string) *StaticSource {
	return &StaticSource{symbols: utils.NewSymbolSet(symbols...)}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) ListSymbols(ctx context.Context, assetClass models.AssetClass) (utils.SymbolSet, error) {
	return s.symbols.Clone(), nil
}
