// Package database opens the SQL connections used for the state table and
// the result warehouse.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mohans/labelx/labelx"
)

// Open connects with the named driver, verifies the connection and returns
// the matching SQL dialect. timeout is also set as the driver's network or
// statement timeout so a stalled connection cannot outlive it; 0 leaves the
// driver defaults.
func Open(ctx context.Context, driver, dsn string, timeout time.Duration) (*sql.DB, labelx.Dialect, error) {
	dialect, err := labelx.DialectFor(driver)
	if err != nil {
		return nil, labelx.Dialect{}, err
	}

	var db *sql.DB
	switch dialect.Name {
	case labelx.DialectMySQL.Name:
		normalized, err := normalizeMySQLDSN(dsn, timeout)
		if err != nil {
			return nil, labelx.Dialect{}, err
		}
		db, err = sql.Open("mysql", normalized)
		if err != nil {
			return nil, labelx.Dialect{}, fmt.Errorf("open mysql: %w", err)
		}
	case labelx.DialectPostgres.Name:
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, labelx.Dialect{}, fmt.Errorf("parse postgres dsn: %w", err)
		}
		applyPostgresTimeout(cfg, timeout)
		db = stdlib.OpenDB(*cfg)
	default:
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, labelx.Dialect{}, fmt.Errorf("open sqlite: %w", err)
		}
		// One writer at a time; busy_timeout in the DSN covers the rest.
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, labelx.Dialect{}, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}
	return db, dialect, nil
}

// normalizeMySQLDSN forces parseTime so DATETIME columns scan into time.Time
// and fills in dial/read/write timeouts the DSN does not set.
func normalizeMySQLDSN(dsn string, timeout time.Duration) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	if timeout > 0 {
		if cfg.Timeout == 0 {
			cfg.Timeout = timeout
		}
		if cfg.ReadTimeout == 0 {
			cfg.ReadTimeout = timeout
		}
		if cfg.WriteTimeout == 0 {
			cfg.WriteTimeout = timeout
		}
	}
	return cfg.FormatDSN(), nil
}

// applyPostgresTimeout sets connect_timeout and statement_timeout unless the
// DSN already has them.
func applyPostgresTimeout(cfg *pgx.ConnConfig, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = timeout
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.RuntimeParams["statement_timeout"]; !ok {
		cfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(timeout.Milliseconds(), 10)
	}
}
