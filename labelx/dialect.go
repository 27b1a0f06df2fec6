package labelx

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	Name          string
	TimestampType string

	numbered   bool // $1, $2 placeholders instead of ?
	quoteChar  string
	listTables string
}

var (
	DialectSQLite = Dialect{
		Name:          "sqlite",
		TimestampType: "DATETIME",
		quoteChar:     `"`,
		listTables:    `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ?`,
	}
	DialectMySQL = Dialect{
		Name:          "mysql",
		TimestampType: "DATETIME(6)",
		quoteChar:     "`",
		listTables:    `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name LIKE ?`,
	}
	DialectPostgres = Dialect{
		Name:          "postgres",
		TimestampType: "TIMESTAMPTZ",
		numbered:      true,
		quoteChar:     `"`,
		listTables:    `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name LIKE ?`,
	}
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql driver %q", driverName)
	}
}

// Rebind rewrites ? placeholders for engines that number them.
// Queries passed here never contain a literal question mark.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuoteIdent quotes a table or column name.
func (d Dialect) QuoteIdent(name string) string {
	q := d.quoteChar
	if q == "" {
		q = `"`
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// ListTablesQuery returns the catalog query selecting table names LIKE its single argument.
func (d Dialect) ListTablesQuery() string {
	return d.Rebind(d.listTables)
}

// IsAlreadyExists reports whether err is a lost CREATE TABLE race.
func (d Dialect) IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "already exists") {
		return true
	}
	// Concurrent CREATE TABLE IF NOT EXISTS on postgres can collide on the row type.
	return d.numbered && strings.Contains(msg, "pg_type_typname_nsp_index")
}
