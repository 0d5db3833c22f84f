package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"market-streamer/src/logger"
	"market-streamer/src/models"

	_ "modernc.org/sqlite"
)

// Fixed width keeps (symbol, time, interval) keys comparable as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// -----------------------------------------------------------------------------

// SQLiteDB is the single-file sink used for development and simulate mode.
type SQLiteDB struct {
	Config  *models.MConfig
	DB      *sql.DB
	Logger  *logger.Logger
	queries map[models.AssetClass]tableQueries
}

// -----------------------------------------------------------------------------

func NewSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*SQLiteDB, error) {
	return &SQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	// One writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		d.Logger.Warning("Failed to set busy timeout: %v", err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("SQLiteDB initialized successfully (Path: %s)", dsn)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) createTables() error {
	prefixes, err := tablePrefixes(d.Config)
	if err != nil {
		return err
	}

	d.queries = make(map[models.AssetClass]tableQueries, len(prefixes))
	for ac, prefix := range prefixes {
		bars := fmt.Sprintf(`"%s_bars"`, prefix)
		trades := fmt.Sprintf(`"%s_trades"`, prefix)

		// SQLite types: INTEGER for int64, REAL for float64, TEXT for string and time
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				time TEXT NOT NULL,
				symbol TEXT NOT NULL,
				open REAL NOT NULL,
				high REAL NOT NULL,
				low REAL NOT NULL,
				close REAL NOT NULL,
				volume REAL NOT NULL,
				trade_count INTEGER,
				vwap REAL,
				"interval" INTEGER NOT NULL DEFAULT 1,
				PRIMARY KEY (symbol, time, "interval")
			);
		`, bars)
		if _, err := d.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to create %s: %w", bars, err)
		}

		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol TEXT NOT NULL,
				time TEXT NOT NULL,
				exchange TEXT,
				price REAL NOT NULL,
				size REAL NOT NULL,
				trade_id INTEGER,
				conditions TEXT,
				tape TEXT
			);
		`, trades)
		if _, err := d.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to create %s: %w", trades, err)
		}

		insertBar := fmt.Sprintf(`
			INSERT INTO %s (time, symbol, open, high, low, close, volume, trade_count, vwap, "interval")
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, bars)

		d.queries[ac] = tableQueries{
			insertBar: insertBar,
			upsertBar: insertBar + `
			ON CONFLICT (symbol, time, "interval") DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				trade_count = excluded.trade_count,
				vwap = excluded.vwap
			`,
			insertTrade: fmt.Sprintf(`
				INSERT INTO %s (symbol, time, exchange, price, size, trade_id, conditions, tape)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, trades),
		}
	}

	query := `
		CREATE TABLE IF NOT EXISTS watch_list (
			symbol TEXT NOT NULL,
			asset_class TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (symbol, asset_class)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create watch_list: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS tracked_symbols (
			asset_class TEXT NOT NULL,
			symbol TEXT NOT NULL,
			source_name TEXT,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (asset_class, symbol)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create tracked_symbols: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) UpsertObservation(ctx context.Context, obs *models.MObservation) error {
	var ts string
	if obs != nil {
		ts = obs.Timestamp.UTC().Format(sqliteTimeLayout)
	}
	return writeObservation(ctx, d.DB, d.queries, obs, ts, classifySQLiteError)
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) RegisterTrackedSymbols(ctx context.Context, assetClass models.AssetClass, source string, symbols []string) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_symbols WHERE asset_class = ?`, string(assetClass)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracked_symbols (asset_class, symbol, source_name, updated_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(sqliteTimeLayout)
	for _, s := range symbols {
		if _, err := stmt.ExecContext(ctx, string(assetClass), s, source, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

// GetSymbolsFromTable ignores schema unless it names an attached database.
func (d *SQLiteDB) GetSymbolsFromTable(ctx context.Context, schema, table, field, filterField, filterValue string) ([]string, error) {
	for _, ident := range []string{table, field} {
		if !identifierRegex.MatchString(ident) {
			return nil, fmt.Errorf("invalid identifier '%s'", ident)
		}
	}

	from := fmt.Sprintf(`"%s"`, table)
	if schema != "" && schema != "public" {
		if !identifierRegex.MatchString(schema) {
			return nil, fmt.Errorf("invalid identifier '%s'", schema)
		}
		from = fmt.Sprintf(`"%s"."%s"`, schema, table)
	}

	query := fmt.Sprintf(`SELECT DISTINCT "%s" FROM %s`, field, from)
	var args []interface{}
	if filterField != "" {
		if !identifierRegex.MatchString(filterField) {
			return nil, fmt.Errorf("invalid identifier '%s'", filterField)
		}
		query += fmt.Sprintf(` WHERE "%s" = ?`, filterField)
		args = append(args, filterValue)
	}

	return querySymbols(ctx, d.DB, query, args...)
}

// -----------------------------------------------------------------------------

// RefreshViews is a no-op: SQLite has no continuous aggregates.
func (d *SQLiteDB) RefreshViews(ctx context.Context) error {
	if len(d.Config.Storage.RefreshViews) > 0 {
		d.Logger.Debug("SQLiteDB: ignoring %d refresh_views", len(d.Config.Storage.RefreshViews))
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
