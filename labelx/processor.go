package labelx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

// LabelResult is what the label stage hands to the generate stage.
type LabelResult struct {
	RunIDs []string `json:"run_ids"`
}

// GenerateResult is persisted as the task's result payload.
type GenerateResult struct {
	Tables  []string        `json:"tables"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Labeler performs the label stage computation.
type Labeler interface {
	Label(ctx context.Context, taskID string, cfg TaskConfig) (LabelResult, error)
}

// Generator materializes result tables from the label stage run ids.
type Generator interface {
	Generate(ctx context.Context, taskID string, cfg TaskConfig, runIDs []string) (GenerateResult, error)
}

// ErrStageRevoked is returned by a stage that was cancelled on purpose. The
// stage is recorded as REVOKED and never retried.
var ErrStageRevoked = errors.New("stage revoked")

// errGate marks a generate task whose label checkpoint is missing; the
// state row is left untouched.
var errGate = errors.New("label stage has not succeeded")

// errAfterCheckpoint marks a label task that failed after stage 1 was
// recorded as SUCCESS. The failure is charged to stage 2.
var errAfterCheckpoint = errors.New("label checkpoint already recorded")

// Processor runs both stages on asynq workers and keeps the state table in
// step with them.
type Processor struct {
	server    *asynq.Server
	store     Store
	pipeline  *AsynqPipeline
	labeler   Labeler
	generator Generator
	logger    *slog.Logger
	observe   func(taskType string, status Status)

	storeTimeout time.Duration
}

type ProcessorConfig struct {
	Concurrency int
	Queues      map[string]int
	Logger      *slog.Logger
	// OnStageStatus is called after every recorded stage transition.
	OnStageStatus func(taskType string, status Status)
	// StoreTimeout bounds each state write; 0 means DefaultStoreTimeout.
	StoreTimeout time.Duration
	// RetryDelay overrides the queue engine's exponential backoff.
	RetryDelay func(n int, err error, t *asynq.Task) time.Duration
}

func NewProcessor(redisOpt asynq.RedisConnOpt, store Store, pipeline *AsynqPipeline, labeler Labeler, generator Generator, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	qs := cfg.Queues
	if qs == nil {
		qs = map[string]int{"default": 1}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	observe := cfg.OnStageStatus
	if observe == nil {
		observe = func(string, Status) {}
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	acfg := asynq.Config{
		Concurrency: con,
		Queues:      qs,
		Logger:      asynqLogger{logger},
	}
	if cfg.RetryDelay != nil {
		acfg.RetryDelayFunc = cfg.RetryDelay
	}
	return &Processor{
		server:       asynq.NewServer(redisOpt, acfg),
		store:        store,
		pipeline:     pipeline,
		labeler:      labeler,
		generator:    generator,
		logger:       logger,
		observe:      observe,
		storeTimeout: storeTimeout,
	}
}

// Handler returns the stage mux wrapped with lifecycle tracking.
func (p *Processor) Handler() asynq.Handler {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeLabel, p.handleLabel)
	mux.HandleFunc(TypeGenerate, p.handleGenerate)
	return p.lifecycleMiddleware(mux)
}

// Start runs the worker server until Shutdown.
func (p *Processor) Start() error {
	return p.server.Run(p.Handler())
}

func (p *Processor) Shutdown() { p.server.Shutdown() }

// Middleware to record RETRY/FAILURE/REVOKED; successes are recorded by the handlers.
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		payload, err := DecodeStagePayload(t.Payload())
		if err != nil {
			p.logger.ErrorContext(ctx, "dropping malformed stage task", "type", t.Type(), "error", err)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		err = next.ProcessTask(ctx, t)
		if err == nil || errors.Is(err, errGate) {
			return err
		}
		taskType := t.Type()
		if errors.Is(err, errAfterCheckpoint) {
			taskType = TypeGenerate
		}
		status := failureStatus(ctx, err)
		result := ""
		if status.Terminal() {
			result = errorResult(err)
		}
		p.logger.WarnContext(ctx, "stage failed", "type", taskType, "task_id", payload.TaskID, "status", status, "error", err)
		p.mark(ctx, taskType, payload.TaskID, status, result)
		return err
	})
}

func (p *Processor) handleLabel(ctx context.Context, t *asynq.Task) error {
	payload, err := DecodeStagePayload(t.Payload())
	if err != nil {
		return err
	}
	id := payload.TaskID
	// A worker can pick the task up before CreateTask has inserted the row.
	// The STARTED mark is then dropped; the checkpoint below fails on the
	// missing row and the task is retried once the row exists.
	p.mark(ctx, TypeLabel, id, StatusStarted, "")

	res, err := p.labeler.Label(ctx, id, payload.Config)
	if err != nil {
		return stageError(err)
	}

	// The checkpoint must be durable before stage 2 can be queued.
	wctx, cancel := p.writeContext(ctx)
	defer cancel()
	if err := p.store.MarkStage1(wctx, id, StatusSuccess); err != nil {
		return fmt.Errorf("record label checkpoint: %w", err)
	}
	p.observe(TypeLabel, StatusSuccess)
	if err := p.store.MarkStage2(wctx, id, StatusPending, ""); err != nil {
		return fmt.Errorf("record label checkpoint: %w: %w", err, errAfterCheckpoint)
	}

	next := payload
	next.RunIDs = res.RunIDs
	if err := p.pipeline.enqueueGenerate(ctx, next); err != nil {
		// Retrying would relabel a window that already succeeded.
		return fmt.Errorf("enqueue generate stage: %w: %w: %w", err, errAfterCheckpoint, asynq.SkipRetry)
	}
	p.logger.InfoContext(ctx, "label stage done", "task_id", id, "run_ids", len(res.RunIDs), "stage2_delay_seconds", payload.Stage2DelaySeconds)
	return nil
}

func (p *Processor) handleGenerate(ctx context.Context, t *asynq.Task) error {
	payload, err := DecodeStagePayload(t.Payload())
	if err != nil {
		return err
	}
	id := payload.TaskID

	rec, err := p.store.GetByTaskID(ctx, id)
	if err != nil {
		return fmt.Errorf("generate %s: %w", id, err)
	}
	if rec.Stage1Status != StatusSuccess {
		p.logger.ErrorContext(ctx, "generate stage refused", "task_id", id, "stage1_status", rec.Stage1Status)
		return fmt.Errorf("%w (stage1 is %s): %w", errGate, rec.Stage1Status, asynq.SkipRetry)
	}
	p.mark(ctx, TypeGenerate, id, StatusStarted, "")

	res, err := p.generator.Generate(ctx, id, payload.Config, payload.RunIDs)
	if err != nil {
		return stageError(err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode generate result: %w", err)
	}
	wctx, cancel := p.writeContext(ctx)
	defer cancel()
	if err := p.store.MarkStage2(wctx, id, StatusSuccess, string(b)); err != nil {
		return fmt.Errorf("record generate result: %w", err)
	}
	p.observe(TypeGenerate, StatusSuccess)
	p.logger.InfoContext(ctx, "generate stage done", "task_id", id, "tables", len(res.Tables))
	return nil
}

// writeContext outlives a cancelled or expired stage so its outcome is
// still recorded, but is bounded on its own.
func (p *Processor) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.storeTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (p *Processor) mark(ctx context.Context, taskType, taskID string, status Status, result string) {
	wctx, cancel := p.writeContext(ctx)
	defer cancel()
	var err error
	switch taskType {
	case TypeLabel:
		err = p.store.MarkStage1(wctx, taskID, status)
	case TypeGenerate:
		err = p.store.MarkStage2(wctx, taskID, status, result)
	default:
		return
	}
	if errors.Is(err, ErrRecordNotFound) {
		p.logger.WarnContext(ctx, "stage ran without a state row", "type", taskType, "task_id", taskID, "status", status)
		return
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "stage status not recorded", "type", taskType, "task_id", taskID, "status", status, "error", err)
		return
	}
	p.observe(taskType, status)
}

// stageError keeps revocations out of the retry loop.
func stageError(err error) error {
	if errors.Is(err, ErrStageRevoked) && !errors.Is(err, asynq.SkipRetry) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func failureStatus(ctx context.Context, err error) Status {
	if errors.Is(err, ErrStageRevoked) {
		return StatusRevoked
	}
	if errors.Is(err, asynq.SkipRetry) {
		return StatusFailure
	}
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried >= maxRetry {
		return StatusFailure
	}
	return StatusRetry
}

func errorResult(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// asynqLogger routes the queue engine's own logs through slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
