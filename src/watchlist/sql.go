package watchlist

import (
	"context"
	"fmt"

	"market-streamer/src/helpers"
	"market-streamer/src/models"
	"market-streamer/src/storage"
	"market-streamer/src/utils"
)

// symbolReader is the slice of IDatabase this source needs.
type symbolReader interface {
	GetSymbolsFromTable(ctx context.Context, schema, table, field, filterField, filterValue string) ([]string, error)
}

// SQLSource reads the watch-list from a schema.table.field column.
type SQLSource struct {
	DB          symbolReader
	Reference   storage.SymbolReference
	FilterField string
	FilterValue string
}

func NewSQLSource(db symbolReader, cfg models.MWatchListConfig) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("sql watch list needs a database")
	}
	ref, err := storage.ParseSymbolReference(cfg.Reference)
	if err != nil {
		return nil, err
	}
	return &SQLSource{
		DB:          db,
		Reference:   ref,
		FilterField: cfg.FilterField,
		FilterValue: cfg.FilterValue,
	}, nil
}

func (s *SQLSource) Name() string { return "sql:" + s.Reference.String() }

// ListSymbols filters on FilterField when set; FilterValue defaults to the asset class name.
func (s *SQLSource) ListSymbols(ctx context.Context, assetClass models.AssetClass) (utils.SymbolSet, error) {
	value := s.FilterValue
	if s.FilterField != "" && value == "" {
		value = string(assetClass)
	}

	symbols, err := s.DB.GetSymbolsFromTable(ctx, s.Reference.Schema, s.Reference.Table, s.Reference.Field, s.FilterField, value)
	if err != nil {
		return nil, helpers.NewSourceUnavailable(fmt.Sprintf("read %s", s.Reference), err)
	}
	return utils.NewSymbolSet(symbols...), nil
}
