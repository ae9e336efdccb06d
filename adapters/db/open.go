package db

import (
	"context"
	"strings"

	"gopower/internal/errors"
	"gopower/internal/migration"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DriverFor picks the database/sql driver for a DSN: postgres URLs go to
// lib/pq, anything else is treated as a SQLite path.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// Open connects to the results database and brings the schema up to date
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	driver := DriverFor(dsn)
	conn := dsn
	if driver == "sqlite" {
		conn = sqliteDSN(dsn)
	}

	db, err := sqlx.ConnectContext(ctx, driver, conn)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to "+driver, err)
	}
	if driver == "sqlite" {
		// one connection keeps :memory: databases shared and serialises writers
		db.SetMaxOpenConns(1)
	}

	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, errors.DatabaseError("failed to migrate schema", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)"
}
