package reconcile

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	_ "modernc.org/sqlite"

	"github.com/mohans/labelx/labelx"
)

const (
	orphanID = "0123456789abcdef0123456789abcdef"
	knownID  = "fedcba9876543210fedcba9876543210"
)

func setup(t *testing.T) (*labelx.SQLStore, *labelx.AsynqPipeline, *asynq.Inspector) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)

	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "state.db")+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := labelx.NewSQLStore(db, labelx.SQLStoreOptions{})
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	redis := asynq.RedisClientOpt{Addr: s.Addr()}
	pipeline := labelx.NewAsynqPipeline(redis, labelx.PipelineOptions{})
	t.Cleanup(func() { pipeline.Close() })
	insp := asynq.NewInspector(redis)
	t.Cleanup(func() { insp.Close() })
	return store, pipeline, insp
}

func submit(t *testing.T, p *labelx.AsynqPipeline, id string) {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := labelx.TaskConfig{ModelType: "topic", PredictType: "author", StartTime: start, EndTime: start.AddDate(0, 0, 30), InputSchema: "forum"}
	if _, err := p.SubmitChain(context.Background(), id, cfg, "q1", 0); err != nil {
		t.Fatalf("SubmitChain: %v", err)
	}
}

func TestSweep_BackfillsOrphans(t *testing.T) {
	store, pipeline, insp := setup(t)
	ctx := context.Background()

	submit(t, pipeline, orphanID)
	submit(t, pipeline, knownID)
	if err := store.Insert(ctx, labelx.TaskStateRecord{TaskID: knownID, Stage1Status: labelx.StatusPending, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var found, filled []string
	r := New(insp, store, Options{
		Grace:      time.Minute,
		Backfill:   true,
		Now:        func() time.Time { return time.Now().Add(time.Hour) },
		OnOrphan:   func(id string) { found = append(found, id) },
		OnBackfill: func(id string) { filled = append(filled, id) },
	})
	rep, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Scanned != 2 || len(rep.Orphans) != 1 || rep.Orphans[0] != orphanID || rep.Backfilled != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(found) != 1 || len(filled) != 1 {
		t.Fatalf("hooks not called: found=%v filled=%v", found, filled)
	}

	rec, err := store.GetByTaskID(ctx, orphanID)
	if err != nil {
		t.Fatalf("backfilled row missing: %v", err)
	}
	if rec.Stage1Status != labelx.StatusPending || rec.Stage2Status != "" || rec.DateRange != "2024-01-01 00:00:00 - 2024-01-31 00:00:00" {
		t.Fatalf("unexpected backfilled row: %+v", rec)
	}

	// A second sweep has nothing left to do.
	rep, err = r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(rep.Orphans) != 0 {
		t.Fatalf("expected no orphans, got %v", rep.Orphans)
	}
}

func TestSweep_RespectsGrace(t *testing.T) {
	store, pipeline, insp := setup(t)
	submit(t, pipeline, orphanID)

	r := New(insp, store, Options{Grace: time.Hour, Backfill: true})
	rep, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Scanned != 1 || len(rep.Orphans) != 0 {
		t.Fatalf("fresh chain must not be flagged: %+v", rep)
	}
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	r := New(nil, nil, Options{})
	if err := r.Start("not a schedule"); err == nil {
		t.Fatal("expected schedule error")
	}
}
