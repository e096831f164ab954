// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package sqldb

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/lib/pq" // "postgres" driver for database/sql
	"github.com/sapcc/go-bits/easypg"
	gorp "gopkg.in/gorp.v2"
	_ "modernc.org/sqlite" // "sqlite" driver for database/sql

	"github.com/sapcc/dsx-connect/internal/dsx"
)

func init() {
	dsx.RegisterResultStoreDriver("sqlite3", func(cfg dsx.DatabaseConfiguration) (dsx.ResultStoreDriver, error) {
		db, err := OpenSQLite(cfg.Location)
		if err != nil {
			return nil, err
		}
		return NewResultStoreDriver(db), nil
	})
	dsx.RegisterStatsStoreDriver("sqlite3", func(cfg dsx.DatabaseConfiguration) (dsx.StatsStoreDriver, error) {
		db, err := OpenSQLite(cfg.Location)
		if err != nil {
			return nil, err
		}
		return NewStatsStoreDriver(db), nil
	})
	dsx.RegisterResultStoreDriver("postgres", func(cfg dsx.DatabaseConfiguration) (dsx.ResultStoreDriver, error) {
		db, err := OpenPostgres(cfg.Location)
		if err != nil {
			return nil, err
		}
		return NewResultStoreDriver(db), nil
	})
	dsx.RegisterStatsStoreDriver("postgres", func(cfg dsx.DatabaseConfiguration) (dsx.StatsStoreDriver, error) {
		db, err := OpenPostgres(cfg.Location)
		if err != nil {
			return nil, err
		}
		return NewStatsStoreDriver(db), nil
	})
}

var sqlMigrations = map[string]string{
	"001_initial.up.sql": `
		CREATE TABLE scan_results (
			id              BIGSERIAL NOT NULL PRIMARY KEY,
			scan_id         TEXT      NOT NULL DEFAULT '',
			file_tag        TEXT      NOT NULL DEFAULT '',
			quarantined     BOOLEAN   NOT NULL DEFAULT FALSE,
			status          TEXT      NOT NULL,
			verdict_json    TEXT      NOT NULL DEFAULT '',
			file_reputation BIGINT    DEFAULT NULL
		);
		CREATE INDEX scan_results_scan_id_idx ON scan_results (scan_id);

		CREATE TABLE scan_stats (
			seq        BIGSERIAL NOT NULL PRIMARY KEY,
			scan_id    TEXT      NOT NULL UNIQUE,
			stats_json TEXT      NOT NULL
		);
	`,
	"001_initial.down.sql": `
		DROP TABLE scan_stats;
		DROP TABLE scan_results;
	`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS scan_results (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id         TEXT    NOT NULL DEFAULT '',
		file_tag        TEXT    NOT NULL DEFAULT '',
		quarantined     INTEGER NOT NULL DEFAULT 0,
		status          TEXT    NOT NULL,
		verdict_json    TEXT    NOT NULL DEFAULT '',
		file_reputation INTEGER DEFAULT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS scan_results_scan_id_idx ON scan_results (scan_id)`,
	`CREATE TABLE IF NOT EXISTS scan_stats (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id    TEXT    NOT NULL UNIQUE,
		stats_json TEXT    NOT NULL
	)`,
}

// DB adds convenience functions on top of gorp.DbMap.
type DB struct {
	gorp.DbMap
}

// OpenSQLite opens (and if necessary creates) an SQLite database file. The
// location ":memory:" gives a database without persistence.
func OpenSQLite(location string) (*DB, error) {
	if location != ":memory:" {
		err := os.MkdirAll(filepath.Dir(location), 0o755)
		if err != nil {
			return nil, fmt.Errorf("cannot create directory for %s: %w", location, err)
		}
	}
	sqlDB, err := sql.Open("sqlite", location)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", location, err)
	}
	// SQLite does not do concurrent writers, and every connection to
	// ":memory:" would see its own database
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		_, err := sqlDB.Exec(stmt)
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("cannot apply database schema to %s: %w", location, err)
		}
	}
	return initDB(sqlDB, gorp.SqliteDialect{}), nil
}

// OpenPostgres connects to the Postgres database at the given URL and
// applies the database schema.
func OpenPostgres(location string) (*DB, error) {
	dbURL, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("malformed Postgres URL: %w", err)
	}
	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return nil, fmt.Errorf("expected a postgres:// URL, got %q", location)
	}
	sqlDB, err := easypg.Connect(*dbURL, easypg.Configuration{
		Migrations: sqlMigrations,
	})
	if err != nil {
		return nil, err
	}
	return initDB(sqlDB, gorp.PostgresDialect{}), nil
}

func initDB(sqlDB *sql.DB, dialect gorp.Dialect) *DB {
	result := &DB{DbMap: gorp.DbMap{Db: sqlDB, Dialect: dialect}}
	result.AddTableWithName(resultRow{}, "scan_results").SetKeys(true, "id")
	result.AddTableWithName(statsRow{}, "scan_stats").SetKeys(true, "seq")
	return result
}

// bindVar returns the placeholder for the i-th query argument (counting from 0).
func (db *DB) bindVar(i int) string {
	return db.Dialect.BindVar(i)
}
