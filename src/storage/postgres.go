package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"market-streamer/src/helpers"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

var viewNameRegex = regexp.MustCompile(`^\w+(\.\w+)?$`)

// -----------------------------------------------------------------------------

// PostgresDB stores observations in Postgres through either lib/pq or pgx.
type PostgresDB struct {
	Config  *models.MConfig
	DB      *sql.DB
	Driver  string
	Schema  string
	Logger  *logger.Logger
	queries map[models.AssetClass]tableQueries
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, driver string, log *logger.Logger) (*PostgresDB, error) {
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported postgres driver '%s'", driver)
	}
	if !identifierRegex.MatchString(cfg.Storage.Schema) {
		return nil, fmt.Errorf("invalid schema name '%s'", cfg.Storage.Schema)
	}

	return &PostgresDB{
		Config: cfg,
		Driver: driver,
		Schema: cfg.Storage.Schema,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return err
	}

	ctx := context.Background()
	err = helpers.RetryWithBackoff(ctx, d.Logger, "postgres ping", d.Config.Storage.ConnectRetries, time.Second, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return helpers.NewStorageError("postgres unreachable", err)
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Driver: %s, Schema: %s)", d.Driver, d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

// createTables creates missing tables; existing data is never dropped.
func (d *PostgresDB) createTables() error {
	prefixes, err := tablePrefixes(d.Config)
	if err != nil {
		return err
	}

	d.queries = make(map[models.AssetClass]tableQueries, len(prefixes))
	for ac, prefix := range prefixes {
		bars := fmt.Sprintf(`"%s"."%s_bars"`, d.Schema, prefix)
		trades := fmt.Sprintf(`"%s"."%s_trades"`, d.Schema, prefix)

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				time TIMESTAMPTZ NOT NULL,
				symbol TEXT NOT NULL,
				open DOUBLE PRECISION NOT NULL,
				high DOUBLE PRECISION NOT NULL,
				low DOUBLE PRECISION NOT NULL,
				close DOUBLE PRECISION NOT NULL,
				volume DOUBLE PRECISION NOT NULL,
				trade_count BIGINT,
				vwap DOUBLE PRECISION,
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
				time TIMESTAMPTZ NOT NULL,
				exchange TEXT,
				price DOUBLE PRECISION NOT NULL,
				size DOUBLE PRECISION NOT NULL,
				trade_id BIGINT,
				conditions TEXT,
				tape TEXT
			);
		`, trades)
		if _, err := d.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to create %s: %w", trades, err)
		}

		index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_trades_symbol_time_idx" ON %s (symbol, time)`, prefix, trades)
		if _, err := d.DB.Exec(index); err != nil {
			return fmt.Errorf("failed to index %s: %w", trades, err)
		}

		insertBar := fmt.Sprintf(`
			INSERT INTO %s (time, symbol, open, high, low, close, volume, trade_count, vwap, "interval")
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, bars)

		d.queries[ac] = tableQueries{
			insertBar: insertBar,
			upsertBar: insertBar + `
			ON CONFLICT (symbol, time, "interval") DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume,
				trade_count = EXCLUDED.trade_count,
				vwap = EXCLUDED.vwap
			`,
			insertTrade: fmt.Sprintf(`
				INSERT INTO %s (symbol, time, exchange, price, size, trade_id, conditions, tape)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, trades),
		}
	}

	return d.createSymbolTables()
}

// -----------------------------------------------------------------------------

// UpsertObservation writes a single observation; no cross-row transaction.
func (d *PostgresDB) UpsertObservation(ctx context.Context, obs *models.MObservation) error {
	var ts time.Time
	if obs != nil {
		ts = obs.Timestamp.UTC()
	}
	return writeObservation(ctx, d.DB, d.queries, obs, ts, classifyPostgresError)
}

// -----------------------------------------------------------------------------

// RefreshViews refreshes every configured TimescaleDB continuous aggregate.
func (d *PostgresDB) RefreshViews(ctx context.Context) error {
	var errs []error
	for _, view := range d.Config.Storage.RefreshViews {
		if !viewNameRegex.MatchString(view) {
			errs = append(errs, fmt.Errorf("invalid view name '%s'", view))
			continue
		}

		// CALL cannot take bind parameters for the regclass argument.
		query := fmt.Sprintf(`CALL refresh_continuous_aggregate('%s', NULL, NULL)`, view)
		if _, err := d.DB.ExecContext(ctx, query); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", view, err))
			continue
		}
		d.Logger.Info("PostgresDB: refreshed continuous aggregate %s", view)
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
