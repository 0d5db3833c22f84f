package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"market-streamer/src/helpers"
	"market-streamer/src/models"
)

var identifierRegex = regexp.MustCompile(`^\w+$`)

// tableQueries holds the prepared SQL text for one asset class's tables.
type tableQueries struct {
	insertBar   string
	upsertBar   string
	insertTrade string
}

// -----------------------------------------------------------------------------

// tablePrefixes maps each configured asset class to its table prefix.
func tablePrefixes(cfg *models.MConfig) (map[models.AssetClass]string, error) {
	out := make(map[models.AssetClass]string, len(cfg.AssetClasses))
	for _, ac := range cfg.AssetClasses {
		prefix := ac.TablePrefix
		if prefix == "" {
			prefix = ac.Name
		}
		if !identifierRegex.MatchString(prefix) {
			return nil, fmt.Errorf("invalid table prefix '%s' for asset class %s", prefix, ac.Name)
		}
		out[models.AssetClass(ac.Name)] = prefix
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func barArgs(obs *models.MObservation, ts interface{}) []interface{} {
	b := obs.Bar
	interval := b.Interval
	if interval == 0 {
		interval = 1
	}
	return []interface{}{ts, obs.Symbol, b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP, interval}
}

func tradeArgs(obs *models.MObservation, ts interface{}) []interface{} {
	t := obs.Trade
	return []interface{}{obs.Symbol, ts, t.Exchange, t.Price, t.Size, t.ID, strings.Join(t.Conditions, ","), t.Tape}
}

// -----------------------------------------------------------------------------

// writeObservation validates obs and executes the matching statement as a
// single autocommitted write.
func writeObservation(
	ctx context.Context,
	db *sql.DB,
	queries map[models.AssetClass]tableQueries,
	obs *models.MObservation,
	ts interface{},
	classify func(op string, err error) error,
) error {
	if obs == nil {
		return helpers.NewValidationError("nil observation", nil)
	}
	if obs.Bar != nil && obs.Bar.Interval == 0 {
		obs.Bar.Interval = 1
	}
	if err := helpers.ValidateStruct(obs); err != nil {
		return err
	}
	if db == nil {
		return helpers.NewStorageError("database not initialized", nil)
	}

	q, ok := queries[obs.AssetClass]
	if !ok {
		return helpers.NewValidationError(fmt.Sprintf("no tables for asset class '%s'", obs.AssetClass), nil)
	}

	var query string
	var args []interface{}
	switch obs.Kind {
	case models.EventKindBar:
		query, args = q.insertBar, barArgs(obs, ts)
	case models.EventKindUpdatedBar:
		query, args = q.upsertBar, barArgs(obs, ts)
	case models.EventKindTrade:
		query, args = q.insertTrade, tradeArgs(obs, ts)
	default:
		return helpers.NewValidationError(fmt.Sprintf("unknown observation kind '%s'", obs.Kind), nil)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Sprintf("write %s %s", obs.Kind, obs.Symbol), err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// querySymbols scans a single text column, skipping NULL and empty values.
func querySymbols(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]string, error) {
	if db == nil {
		return nil, helpers.NewStorageError("database not initialized", nil)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		if s.Valid && s.String != "" {
			symbols = append(symbols, s.String)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return symbols, nil
}
