package storage

import (
	"errors"

	"market-streamer/src/helpers"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Postgres SQLSTATE classes that mean the row itself was rejected.
const (
	pgClassDataException       = "22"
	pgClassIntegrityConstraint = "23"
)

// classifyPostgresError maps driver errors from lib/pq or pgx onto the sink taxonomy.
func classifyPostgresError(op string, err error) error {
	var class string

	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		class = string(pqErr.Code.Class())
	case errors.As(err, &pgErr) && len(pgErr.Code) >= 2:
		class = pgErr.Code[:2]
	}

	if class == pgClassDataException || class == pgClassIntegrityConstraint {
		return helpers.NewValidationError(op+" rejected", err)
	}
	return helpers.NewStorageError(op+" failed", err)
}

// classifySQLiteError does the same for modernc sqlite result codes.
func classifySQLiteError(op string, err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG:
			return helpers.NewValidationError(op+" rejected", err)
		}
	}
	return helpers.NewStorageError(op+" failed", err)
}
