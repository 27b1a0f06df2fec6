package labelx

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labelx.db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store := NewSQLStore(openTestDB(t), SQLStoreOptions{Dialect: DialectSQLite})
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return store
}

type spyStore struct {
	mu          sync.Mutex
	ensureErr   error
	insertErr   error
	readErr     error
	ensureCalls int
	insertCalls int
	records     map[string]TaskStateRecord
}

func newSpyStore() *spyStore {
	return &spyStore{records: map[string]TaskStateRecord{}}
}

func (s *spyStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCalls++
	return s.ensureErr
}

func (s *spyStore) Insert(ctx context.Context, rec TaskStateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertErr != nil {
		return s.insertErr
	}
	s.records[rec.TaskID] = rec
	return nil
}

func (s *spyStore) GetByTaskID(ctx context.Context, taskID string) (*TaskStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	rec, ok := s.records[taskID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (s *spyStore) MarkStage1(ctx context.Context, taskID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[taskID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Stage1Status = status
	s.records[taskID] = rec
	return nil
}

func (s *spyStore) MarkStage2(ctx context.Context, taskID string, status Status, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[taskID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Stage2Status = status
	rec.Result = result
	s.records[taskID] = rec
	return nil
}

func (s *spyStore) ListRecent(ctx context.Context, limit int) ([]TaskStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make([]TaskStateRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type spyPipeline struct {
	mu     sync.Mutex
	err    error
	calls  int
	taskID string
	cfg    TaskConfig
	queue  string
	delay  time.Duration
}

func (p *spyPipeline) SubmitChain(ctx context.Context, taskID string, cfg TaskConfig, queue string, stage2Delay time.Duration) (*ChainHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.taskID, p.cfg, p.queue, p.delay = taskID, cfg, queue, stage2Delay
	if p.err != nil {
		return nil, p.err
	}
	return &ChainHandle{TaskID: taskID, Queue: queue, Status: StatusPending}, nil
}

type stubResolver struct {
	err   error
	calls int
	model string
	pred  string
}

func (r *stubResolver) Resolve(ctx context.Context, modelType, predictType string) (*Pattern, error) {
	r.calls++
	r.model, r.pred = modelType, predictType
	if r.err != nil {
		return nil, r.err
	}
	return &Pattern{ModelType: modelType, PredictType: predictType, Source: "stub", Rules: map[string]any{"k": "v"}}, nil
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }
