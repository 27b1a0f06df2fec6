package labelx

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestOrchestrator(store Store, pipeline Pipeline, resolver PatternResolver) *Orchestrator {
	clock := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	return NewOrchestrator(NewValidator(resolver), store, pipeline, OrchestratorOptions{
		DefaultQueue: "default",
		Now:          func() time.Time { return clock },
	})
}

func TestOrchestrator_CreateTask_Accepted(t *testing.T) {
	store := newSpyStore()
	pipeline := &spyPipeline{}
	resolver := &stubResolver{}
	o := newTestOrchestrator(store, pipeline, resolver)

	acc, err := o.CreateTask(context.Background(), TaskConfig{
		ModelType:   "topic",
		PredictType: "author_name",
		StartTime:   mustDate(t, "2024-01-01"),
		EndTime:     mustDate(t, "2024-01-31"),
		InputSchema: "raw",
		Queue:       "q1",
		Countdown:   5,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := CheckTaskID(acc.TaskID); err != nil {
		t.Fatalf("bad task id %q: %v", acc.TaskID, err)
	}
	if acc.PredictType != "author" || acc.Queue != "q1" || acc.Countdown != 5 {
		t.Fatalf("unexpected outcome: %+v", acc)
	}
	if resolver.pred != "author_name" {
		t.Fatalf("pattern lookup should use author_name, got %q", resolver.pred)
	}

	if pipeline.calls != 1 || pipeline.taskID != acc.TaskID {
		t.Fatalf("want one submission for %s, got %d for %s", acc.TaskID, pipeline.calls, pipeline.taskID)
	}
	if pipeline.queue != "q1" || pipeline.delay != 5*time.Second {
		t.Fatalf("unexpected dispatch queue=%s delay=%s", pipeline.queue, pipeline.delay)
	}
	if pipeline.cfg.PredictType != "author" || pipeline.cfg.Pattern == nil {
		t.Fatalf("stage chain should get the normalized config with its pattern: %+v", pipeline.cfg)
	}

	rec, ok := store.records[acc.TaskID]
	if !ok {
		t.Fatal("state row not written")
	}
	if rec.Stage1Status != StatusPending || rec.Stage2Status != "" || rec.Result != "" {
		t.Fatalf("unexpected initial state: %+v", rec)
	}
	if rec.DateRange != "2024-01-01 00:00:00 - 2024-01-31 00:00:00" {
		t.Fatalf("unexpected date range %q", rec.DateRange)
	}
}

func TestOrchestrator_CreateTask_DefaultQueue(t *testing.T) {
	pipeline := &spyPipeline{}
	o := newTestOrchestrator(newSpyStore(), pipeline, &stubResolver{})
	acc, err := o.CreateTask(context.Background(), TaskConfig{
		ModelType: "topic", PredictType: "content",
		StartTime: mustDate(t, "2024-01-01"), EndTime: mustDate(t, "2024-01-02"),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if acc.Queue != "default" || pipeline.queue != "default" || pipeline.delay != 0 {
		t.Fatalf("unexpected defaults: %+v delay=%s", acc, pipeline.delay)
	}
}

func TestOrchestrator_CreateTask_InvalidRangeTouchesNothing(t *testing.T) {
	store := newSpyStore()
	pipeline := &spyPipeline{}
	o := newTestOrchestrator(store, pipeline, &stubResolver{})

	day := mustDate(t, "2024-01-01")
	_, err := o.CreateTask(context.Background(), TaskConfig{
		ModelType: "topic", PredictType: "content", StartTime: day, EndTime: day,
	})
	if KindOf(err) != KindInvalidTimeRange || CodeOf(err) != 400 {
		t.Fatalf("want invalid time range, got %v", err)
	}
	if store.ensureCalls != 0 || store.insertCalls != 0 || pipeline.calls != 0 {
		t.Fatalf("nothing should be touched: ensure=%d insert=%d submit=%d", store.ensureCalls, store.insertCalls, pipeline.calls)
	}
}

func TestOrchestrator_CreateTask_StoreUnavailable(t *testing.T) {
	store := newSpyStore()
	store.ensureErr = errors.New("dial tcp: connection refused")
	pipeline := &spyPipeline{}
	o := newTestOrchestrator(store, pipeline, &stubResolver{})

	_, err := o.CreateTask(context.Background(), TaskConfig{
		ModelType: "topic", PredictType: "content",
		StartTime: mustDate(t, "2024-01-01"), EndTime: mustDate(t, "2024-01-02"),
	})
	if KindOf(err) != KindStateStoreUnavailable || CodeOf(err) != 503 {
		t.Fatalf("want store unavailable, got %v", err)
	}
	if pipeline.calls != 0 {
		t.Fatal("chain must not be submitted when the store is unavailable")
	}
}

func TestOrchestrator_CreateTask_DispatchFailureLeavesNoRow(t *testing.T) {
	store := openTestStore(t)
	pipeline := &spyPipeline{err: &Error{Kind: KindDispatch, Op: "submit chain", Err: errors.New("redis down")}}
	o := newTestOrchestrator(store, pipeline, &stubResolver{})
	ctx := context.Background()

	_, err := o.CreateTask(ctx, TaskConfig{
		ModelType: "topic", PredictType: "content",
		StartTime: mustDate(t, "2024-01-01"), EndTime: mustDate(t, "2024-01-02"),
	})
	if KindOf(err) != KindDispatch {
		t.Fatalf("want dispatch error, got %v", err)
	}
	if IsPartialFailure(err) {
		t.Fatal("dispatch failure must not be reported as partial")
	}
	recs, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("no state row may exist after a failed dispatch, got %d", len(recs))
	}
}

func TestOrchestrator_CreateTask_PartialFailure(t *testing.T) {
	store := newSpyStore()
	store.insertErr = errors.New("disk full")
	pipeline := &spyPipeline{}
	o := newTestOrchestrator(store, pipeline, &stubResolver{})

	_, err := o.CreateTask(context.Background(), TaskConfig{
		ModelType: "topic", PredictType: "content",
		StartTime: mustDate(t, "2024-01-01"), EndTime: mustDate(t, "2024-01-02"),
	})
	if !IsPartialFailure(err) {
		t.Fatalf("want partial failure, got %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.TaskID != pipeline.taskID {
		t.Fatalf("partial failure should name the dispatched task %s, got %v", pipeline.taskID, err)
	}
}

func TestOrchestrator_CreateThenStatus(t *testing.T) {
	store := openTestStore(t)
	o := newTestOrchestrator(store, &spyPipeline{}, &stubResolver{})
	ctx := context.Background()

	acc, err := o.CreateTask(ctx, TaskConfig{
		ModelType: "topic", PredictType: "content",
		StartTime: mustDate(t, "2024-01-01"), EndTime: mustDate(t, "2024-01-02"),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	st, err := NewStatusService(store, nil, 0).GetStatus(ctx, acc.TaskID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Stage1Status != StatusPending || st.Stage2Status != "" || st.Result != "" || st.Phase != PhaseAccepted {
		t.Fatalf("unexpected status: %+v", st)
	}
}
