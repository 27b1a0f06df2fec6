package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"

	"github.com/mohans/labelx/labelx"
)

func TestOpenSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "state.db") + "?_pragma=busy_timeout(5000)"
	db, dialect, err := Open(context.Background(), "sqlite", dsn, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if dialect.Name != labelx.DialectSQLite.Name {
		t.Fatalf("expected sqlite dialect, got %s", dialect.Name)
	}

	store := labelx.NewSQLStore(db, labelx.SQLStoreOptions{Dialect: dialect})
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open(context.Background(), "oracle", "x", 0); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpenRejectsBadPostgresDSN(t *testing.T) {
	if _, _, err := Open(context.Background(), "pgx", "postgres://user@host:notaport/db", 0); err == nil {
		t.Fatal("expected error for malformed postgres dsn")
	}
}

func TestNormalizeMySQLDSN(t *testing.T) {
	got, err := normalizeMySQLDSN("user:pass@tcp(db:3306)/labels", 3*time.Second)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !strings.Contains(got, "parseTime=true") {
		t.Fatalf("parseTime not forced: %s", got)
	}
	cfg, err := mysql.ParseDSN(got)
	if err != nil {
		t.Fatalf("reparse %s: %v", got, err)
	}
	if cfg.Timeout != 3*time.Second || cfg.ReadTimeout != 3*time.Second || cfg.WriteTimeout != 3*time.Second {
		t.Fatalf("timeouts not applied: dial=%s read=%s write=%s", cfg.Timeout, cfg.ReadTimeout, cfg.WriteTimeout)
	}

	got, err = normalizeMySQLDSN("user:pass@tcp(db:3306)/labels?readTimeout=30s", 3*time.Second)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg, _ = mysql.ParseDSN(got); cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("explicit readTimeout overridden: %s", cfg.ReadTimeout)
	}

	if _, err := normalizeMySQLDSN("user:pass@tcp(db:3306)labels", 0); err == nil {
		t.Fatal("expected error for malformed dsn")
	}
}

func TestApplyPostgresTimeout(t *testing.T) {
	cfg, err := pgx.ParseConfig("postgres://user@localhost:5432/labels")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	applyPostgresTimeout(cfg, 3*time.Second)
	if cfg.ConnectTimeout != 3*time.Second || cfg.RuntimeParams["statement_timeout"] != "3000" {
		t.Fatalf("timeouts not applied: connect=%s statement=%q", cfg.ConnectTimeout, cfg.RuntimeParams["statement_timeout"])
	}

	cfg, err = pgx.ParseConfig("postgres://user@localhost:5432/labels?statement_timeout=100&connect_timeout=1")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	applyPostgresTimeout(cfg, 3*time.Second)
	if cfg.ConnectTimeout != time.Second || cfg.RuntimeParams["statement_timeout"] != "100" {
		t.Fatalf("explicit timeouts overridden: connect=%s statement=%q", cfg.ConnectTimeout, cfg.RuntimeParams["statement_timeout"])
	}
}
