package labelx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultResultTablePrefix is shared with the generate workers and must not change.
const DefaultResultTablePrefix = "wh_panel_mapping_"

// DefaultSampleLimit caps the rows sampled from each result table.
const DefaultSampleLimit = 10

var suffixRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// TableCatalog discovers the result table suffixes that belong to a task.
type TableCatalog interface {
	ResultTables(ctx context.Context, taskID string) ([]string, error)
}

// Warehouse runs a read query and returns its rows as column -> value maps.
type Warehouse interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// Query is a composed statement and its bound arguments.
type Query struct {
	Text string
	Args []any
}

// ResultQueryBuilder composes and runs the sample query over a task's result tables.
type ResultQueryBuilder struct {
	catalog   TableCatalog
	warehouse Warehouse
	dialect   Dialect
	prefix    string
	limit     int
	logger    *slog.Logger
}

type ResultQueryOptions struct {
	Dialect     Dialect
	TablePrefix string
	SampleLimit int
	Logger      *slog.Logger
}

func NewResultQueryBuilder(catalog TableCatalog, warehouse Warehouse, opts ResultQueryOptions) *ResultQueryBuilder {
	b := &ResultQueryBuilder{
		catalog:   catalog,
		warehouse: warehouse,
		dialect:   opts.Dialect,
		prefix:    opts.TablePrefix,
		limit:     opts.SampleLimit,
		logger:    opts.Logger,
	}
	if b.dialect.Name == "" {
		b.dialect = DialectSQLite
	}
	if b.prefix == "" {
		b.prefix = DefaultResultTablePrefix
	}
	if b.limit <= 0 {
		b.limit = DefaultSampleLimit
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// TableName applies the result table naming convention.
func (b *ResultQueryBuilder) TableName(suffix string) string {
	return b.prefix + suffix
}

// Build unions a capped sample of every table. Suffixes come from the
// catalog; anything that is not a plain identifier is refused.
func (b *ResultQueryBuilder) Build(suffixes []string) (Query, error) {
	if len(suffixes) == 0 {
		return Query{}, errors.New("no result tables")
	}
	parts := make([]string, 0, len(suffixes))
	args := make([]any, 0, len(suffixes))
	for i, s := range suffixes {
		if !suffixRe.MatchString(s) {
			return Query{}, fmt.Errorf("unsafe result table suffix %q", s)
		}
		parts = append(parts, fmt.Sprintf("SELECT * FROM (SELECT * FROM %s LIMIT ?) AS s%d",
			b.dialect.QuoteIdent(b.TableName(s)), i))
		args = append(args, b.limit)
	}
	return Query{Text: b.dialect.Rebind(strings.Join(parts, " UNION ALL ")), Args: args}, nil
}

// Sample returns up to the row cap from each result table of taskID. Row
// order across tables is unspecified.
func (b *ResultQueryBuilder) Sample(ctx context.Context, taskID string) (*Sample, error) {
	const op = "sample result"
	if err := CheckTaskID(taskID); err != nil {
		return nil, err
	}

	suffixes, err := b.catalog.ResultTables(ctx, taskID)
	if err != nil {
		b.logger.ErrorContext(ctx, "result table discovery failed", "task_id", taskID, "error", err)
		return nil, &Error{Kind: KindQuery, Op: op, TaskID: taskID, Err: err}
	}
	if len(suffixes) == 0 {
		return nil, &Error{Kind: KindEmptyResult, Op: op, TaskID: taskID}
	}

	q, err := b.Build(suffixes)
	if err != nil {
		return nil, &Error{Kind: KindQuery, Op: op, TaskID: taskID, Err: err}
	}
	rows, err := b.warehouse.Query(ctx, q.Text, q.Args...)
	if err != nil {
		b.logger.ErrorContext(ctx, "sample query failed", "task_id", taskID, "tables", len(suffixes), "error", err)
		return nil, &Error{Kind: KindQuery, Op: op, TaskID: taskID, Err: err}
	}
	if len(rows) == 0 {
		return nil, &Error{Kind: KindEmptyResult, Op: op, TaskID: taskID}
	}

	tables := make([]string, len(suffixes))
	for i, s := range suffixes {
		tables[i] = b.TableName(s)
	}
	return &Sample{TaskID: taskID, Tables: tables, Rows: rows}, nil
}

// SQLWarehouse reads result tables and the catalog over database/sql.
type SQLWarehouse struct {
	db      *sql.DB
	dialect Dialect
	prefix  string
	timeout time.Duration
}

// NewSQLWarehouse bounds each catalog lookup and sample query by timeout
// (DefaultStoreTimeout when 0).
func NewSQLWarehouse(db *sql.DB, dialect Dialect, prefix string, timeout time.Duration) *SQLWarehouse {
	if prefix == "" {
		prefix = DefaultResultTablePrefix
	}
	if dialect.Name == "" {
		dialect = DialectSQLite
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &SQLWarehouse{db: db, dialect: dialect, prefix: prefix, timeout: timeout}
}

// ResultTables lists suffixes of tables named <prefix><suffix> whose suffix
// contains taskID, sorted for stable output.
func (w *SQLWarehouse) ResultTables(ctx context.Context, taskID string) ([]string, error) {
	if w.db == nil {
		return nil, errors.New("nil db")
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rows, err := w.db.QueryContext(ctx, w.dialect.ListTablesQuery(), w.prefix+"%"+taskID+"%")
	if err != nil {
		return nil, fmt.Errorf("list result tables: %w", err)
	}
	defer rows.Close()

	var suffixes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list result tables: %w", err)
		}
		// LIKE treats _ as a wildcard and may ignore case.
		if !strings.HasPrefix(name, w.prefix) {
			continue
		}
		suffix := strings.TrimPrefix(name, w.prefix)
		if strings.Contains(suffix, taskID) && suffixRe.MatchString(suffix) {
			suffixes = append(suffixes, suffix)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list result tables: %w", err)
	}
	sort.Strings(suffixes)
	return suffixes, nil
}

func (w *SQLWarehouse) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if w.db == nil {
		return nil, errors.New("nil db")
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var (
	_ TableCatalog = (*SQLWarehouse)(nil)
	_ Warehouse    = (*SQLWarehouse)(nil)
)
