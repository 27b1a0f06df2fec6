package labelx

import (
	"context"
	"log/slog"
	"time"
)

// Orchestrator accepts tasks: it validates, ensures the state table, submits
// the stage chain and records the initial state row.
type Orchestrator struct {
	validator    *Validator
	store        Store
	pipeline     Pipeline
	logger       *slog.Logger
	defaultQueue string
	newID        func() (string, error)
	now          func() time.Time
}

type OrchestratorOptions struct {
	DefaultQueue string
	Logger       *slog.Logger

	// NewID and Now default to NewTaskID and time.Now.
	NewID func() (string, error)
	Now   func() time.Time
}

func NewOrchestrator(v *Validator, store Store, pipeline Pipeline, opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		validator:    v,
		store:        store,
		pipeline:     pipeline,
		logger:       opts.Logger,
		defaultQueue: opts.DefaultQueue,
		newID:        opts.NewID,
		now:          opts.Now,
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.defaultQueue == "" {
		o.defaultQueue = "default"
	}
	if o.newID == nil {
		o.newID = NewTaskID
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// CreateTask runs the acceptance sequence. Every failure is a *Error:
//   - validation kinds: nothing was touched
//   - KindStateStoreUnavailable: the task was never dispatched
//   - KindDispatch: nothing is queued and no state row exists
//   - KindStateWrite: the chain is queued but has no state row; the error
//     carries the task id so the orphan can be reconciled
func (o *Orchestrator) CreateTask(ctx context.Context, raw TaskConfig) (*Accepted, error) {
	const op = "create task"

	cfg, err := o.validator.Validate(ctx, raw)
	if err != nil {
		o.logger.WarnContext(ctx, "task rejected", "kind", KindOf(err), "error", err)
		return nil, err
	}
	if cfg.Queue == "" {
		cfg.Queue = o.defaultQueue
	}

	if err := o.store.EnsureSchema(ctx); err != nil {
		o.logger.ErrorContext(ctx, "state store unavailable", "error", err)
		return nil, newError(KindStateStoreUnavailable, op, err)
	}

	taskID, err := o.newID()
	if err != nil {
		return nil, newError(KindDispatch, op, err)
	}
	log := o.logger.With("task_id", taskID, "queue", cfg.Queue)

	log.InfoContext(ctx, "start labeling task flow", "model_type", cfg.ModelType, "predict_type", cfg.PredictType)
	handle, err := o.pipeline.SubmitChain(ctx, taskID, cfg, cfg.Queue, cfg.Stage2Delay())
	if err != nil {
		log.ErrorContext(ctx, "chain dispatch failed", "error", err)
		if KindOf(err) == KindDispatch {
			return nil, err
		}
		e := newError(KindDispatch, op, err)
		e.TaskID = taskID
		return nil, e
	}

	rec := TaskStateRecord{
		TaskID:       taskID,
		Stage1Status: handle.Status,
		ModelType:    cfg.ModelType,
		PredictType:  cfg.PredictType,
		DateRange:    cfg.DateRange(),
		InputSchema:  cfg.InputSchema,
		CreatedAt:    o.now(),
		Result:       "",
	}
	if rec.Stage1Status == "" {
		rec.Stage1Status = StatusPending
	}
	if err := o.store.Insert(ctx, rec); err != nil {
		log.ErrorContext(ctx, "chain dispatched without state row", "error", err, "class", ClassPartialFailure)
		e := newError(KindStateWrite, op, err)
		e.TaskID = taskID
		return nil, e
	}

	return &Accepted{
		TaskID:      taskID,
		ModelType:   cfg.ModelType,
		PredictType: cfg.PredictType,
		StartTime:   cfg.StartTime,
		EndTime:     cfg.EndTime,
		InputSchema: cfg.InputSchema,
		Queue:       cfg.Queue,
		Countdown:   cfg.Countdown,
		DateRange:   rec.DateRange,
	}, nil
}
