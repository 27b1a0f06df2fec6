package labelx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultStateTable is the name of the task state table.
const DefaultStateTable = "state"

// DefaultStoreTimeout bounds every state table and warehouse call when no
// timeout is configured.
const DefaultStoreTimeout = 5 * time.Second

// ErrRecordNotFound is returned by Store reads and updates for an unknown task id.
var ErrRecordNotFound = errors.New("task state record not found")

// Store abstracts persistence for task state rows.
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureSchema creates the state table when it is missing. Losing a
	// creation race to another caller is not an error.
	EnsureSchema(ctx context.Context) error
	// Insert writes a new row. There is no upsert: an existing task id fails.
	Insert(ctx context.Context, rec TaskStateRecord) error
	GetByTaskID(ctx context.Context, taskID string) (*TaskStateRecord, error)
	MarkStage1(ctx context.Context, taskID string, status Status) error
	// MarkStage2 sets the generate stage status and the result payload.
	MarkStage2(ctx context.Context, taskID string, status Status, result string) error
	ListRecent(ctx context.Context, limit int) ([]TaskStateRecord, error)
}

// SQLStore is the database/sql implementation of Store.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	timeout time.Duration
}

type SQLStoreOptions struct {
	Dialect Dialect
	Table   string
	// Timeout bounds each call; 0 means DefaultStoreTimeout. A call that
	// runs out of time fails like any other storage error.
	Timeout time.Duration
}

func NewSQLStore(db *sql.DB, opts SQLStoreOptions) *SQLStore {
	table := opts.Table
	if table == "" {
		table = DefaultStateTable
	}
	d := opts.Dialect
	if d.Name == "" {
		d = DialectSQLite
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &SQLStore{db: db, dialect: d, table: table, timeout: timeout}
}

const stateColumns = `task_id, stage1_status, stage2_status, model_type, predict_type, date_range, input_schema, created_at, result`

func (s *SQLStore) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    task_id       VARCHAR(32)  NOT NULL PRIMARY KEY,
    stage1_status VARCHAR(16)  NOT NULL,
    stage2_status VARCHAR(16)  NULL,
    model_type    VARCHAR(64)  NOT NULL,
    predict_type  VARCHAR(64)  NOT NULL,
    date_range    VARCHAR(64)  NOT NULL,
    input_schema  VARCHAR(255) NOT NULL,
    created_at    %s NOT NULL,
    result        TEXT         NOT NULL
)`, s.dialect.QuoteIdent(s.table), s.dialect.TimestampType)
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.db == nil {
		return errors.New("nil db")
	}
	exists, err := s.tableExists(ctx)
	if err != nil {
		return fmt.Errorf("inspect state table: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.createTableSQL()); err != nil {
		if s.dialect.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("create state table: %w", err)
	}
	return nil
}

func (s *SQLStore) tableExists(ctx context.Context) (bool, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.ListTablesQuery(), s.table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == s.table {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *SQLStore) Insert(ctx context.Context, rec TaskStateRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.db == nil {
		return errors.New("nil db")
	}
	q := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.dialect.QuoteIdent(s.table), stateColumns))
	_, err := s.db.ExecContext(ctx, q,
		rec.TaskID,
		string(rec.Stage1Status),
		nullStatus(rec.Stage2Status),
		rec.ModelType,
		rec.PredictType,
		rec.DateRange,
		rec.InputSchema,
		rec.CreatedAt.UTC(),
		rec.Result,
	)
	if err != nil {
		return fmt.Errorf("insert state %s: %w", rec.TaskID, err)
	}
	return nil
}

func (s *SQLStore) GetByTaskID(ctx context.Context, taskID string) (*TaskStateRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := s.dialect.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE task_id = ?`, stateColumns, s.dialect.QuoteIdent(s.table)))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", taskID, err)
	}
	return rec, nil
}

func (s *SQLStore) MarkStage1(ctx context.Context, taskID string, status Status) error {
	q := fmt.Sprintf(`UPDATE %s SET stage1_status = ? WHERE task_id = ?`, s.dialect.QuoteIdent(s.table))
	return s.update(ctx, q, taskID, string(status), taskID)
}

func (s *SQLStore) MarkStage2(ctx context.Context, taskID string, status Status, result string) error {
	q := fmt.Sprintf(`UPDATE %s SET stage2_status = ?, result = ? WHERE task_id = ?`, s.dialect.QuoteIdent(s.table))
	return s.update(ctx, q, taskID, string(status), result, taskID)
}

func (s *SQLStore) update(ctx context.Context, query, taskID string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.db == nil {
		return errors.New("nil db")
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update state %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update state %s: %w", taskID, err)
	}
	// MySQL reports 0 affected rows when the values are unchanged, so only
	// treat 0 as missing after confirming the row is absent.
	if n == 0 {
		if _, err := s.GetByTaskID(ctx, taskID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]TaskStateRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	if limit <= 0 {
		limit = 20
	}
	q := s.dialect.Rebind(fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT ?`, stateColumns, s.dialect.QuoteIdent(s.table)))
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list state: %w", err)
	}
	defer rows.Close()

	var out []TaskStateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list state: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*TaskStateRecord, error) {
	rec := TaskStateRecord{}
	var stage1 string
	var stage2 sql.NullString
	var createdAt sql.NullTime
	if err := row.Scan(&rec.TaskID, &stage1, &stage2, &rec.ModelType, &rec.PredictType,
		&rec.DateRange, &rec.InputSchema, &createdAt, &rec.Result); err != nil {
		return nil, err
	}
	rec.Stage1Status = Status(stage1)
	if stage2.Valid {
		rec.Stage2Status = Status(stage2.String)
	}
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time.UTC()
	}
	return &rec, nil
}

func nullStatus(s Status) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(s), Valid: true}
}

var _ Store = (*SQLStore)(nil)
