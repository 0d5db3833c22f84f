package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"market-streamer/src/models"
)

// Info: watch-list and tracked-symbol tables, specific to Postgres

var symbolReferenceRegex = regexp.MustCompile(`^(\w+)\.(\w+)\.(\w+)$`)

// SymbolReference points at a column holding instrument symbols.
type SymbolReference struct {
	Schema string
	Table  string
	Field  string
}

// ParseSymbolReference parses "schema.table.field".
func ParseSymbolReference(ref string) (SymbolReference, error) {
	matches := symbolReferenceRegex.FindStringSubmatch(ref)
	if len(matches) != 4 {
		return SymbolReference{}, fmt.Errorf("invalid symbol reference '%s' (want schema.table.field)", ref)
	}
	return SymbolReference{Schema: matches[1], Table: matches[2], Field: matches[3]}, nil
}

func (r SymbolReference) String() string {
	return fmt.Sprintf("%s.%s.%s", r.Schema, r.Table, r.Field)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createSymbolTables() error {
	watchList := fmt.Sprintf(`"%s"."watch_list"`, d.Schema)
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			asset_class TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (symbol, asset_class)
		);
	`, watchList)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create %s: %w", watchList, err)
	}

	tracked := fmt.Sprintf(`"%s"."tracked_symbols"`, d.Schema)
	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			asset_class TEXT NOT NULL,
			symbol TEXT NOT NULL,
			source_name TEXT,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (asset_class, symbol)
		);
	`, tracked)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create %s: %w", tracked, err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// RegisterTrackedSymbols replaces the recorded instrument set of one asset class.
func (d *PostgresDB) RegisterTrackedSymbols(ctx context.Context, assetClass models.AssetClass, source string, symbols []string) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableName := fmt.Sprintf(`"%s"."tracked_symbols"`, d.Schema)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE asset_class = $1`, tableName), string(assetClass)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (asset_class, symbol, source_name, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset_class, symbol) DO UPDATE SET
			source_name = EXCLUDED.source_name,
			updated_at = EXCLUDED.updated_at
	`, tableName))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, s := range symbols {
		if _, err := stmt.ExecContext(ctx, string(assetClass), s, source, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) GetSymbolsFromTable(ctx context.Context, schema, table, field, filterField, filterValue string) ([]string, error) {
	for _, ident := range []string{schema, table, field} {
		if !identifierRegex.MatchString(ident) {
			return nil, fmt.Errorf("invalid identifier '%s'", ident)
		}
	}

	query := fmt.Sprintf(`SELECT DISTINCT "%s" FROM "%s"."%s"`, field, schema, table)
	var args []interface{}
	if filterField != "" {
		if !identifierRegex.MatchString(filterField) {
			return nil, fmt.Errorf("invalid identifier '%s'", filterField)
		}
		query += fmt.Sprintf(` WHERE "%s" = $1`, filterField)
		args = append(args, filterValue)
	}

	return querySymbols(ctx, d.DB, query, args...)
}
