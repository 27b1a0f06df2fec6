// Package reconcile finds label chains that were queued but never got a
// state row, the window between dispatch and the state insert in CreateTask.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"github.com/mohans/labelx/labelx"
)

const pageSize = 100

// Inspector is the subset of *asynq.Inspector the sweep reads.
type Inspector interface {
	Queues() ([]string, error)
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListActiveTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

type Options struct {
	// Grace is how old a chain must be before a missing row counts.
	Grace    time.Duration
	Backfill bool
	Logger   *slog.Logger

	OnOrphan   func(taskID string)
	OnBackfill func(taskID string)
	Now        func() time.Time
}

type Reconciler struct {
	inspector Inspector
	store     labelx.Store
	opts      Options
	cron      *cron.Cron
}

func New(inspector Inspector, store labelx.Store, opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.OnOrphan == nil {
		opts.OnOrphan = func(string) {}
	}
	if opts.OnBackfill == nil {
		opts.OnBackfill = func(string) {}
	}
	return &Reconciler{inspector: inspector, store: store, opts: opts, cron: cron.New()}
}

// Report summarizes one sweep.
type Report struct {
	Scanned    int
	Orphans    []string
	Backfilled int
}

// Start runs Sweep on schedule (standard cron syntax or "@every 1m").
func (r *Reconciler) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx := context.Background()
		rep, err := r.Sweep(ctx)
		if err != nil {
			r.opts.Logger.ErrorContext(ctx, "reconcile sweep failed", "error", err)
			return
		}
		r.opts.Logger.InfoContext(ctx, "reconcile sweep done", "scanned", rep.Scanned, "orphans", len(rep.Orphans), "backfilled", rep.Backfilled)
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", schedule, err)
	}
	r.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep checks every outstanding label task against the state table.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	queues, err := r.inspector.Queues()
	if err != nil {
		return rep, fmt.Errorf("list queues: %w", err)
	}
	cutoff := r.opts.Now().Add(-r.opts.Grace)

	for _, q := range queues {
		tasks, err := r.labelTasks(q)
		if err != nil {
			return rep, err
		}
		for _, info := range tasks {
			rep.Scanned++
			payload, err := labelx.DecodeStagePayload(info.Payload)
			if err != nil {
				r.opts.Logger.WarnContext(ctx, "undecodable label task", "queue", q, "id", info.ID, "error", err)
				continue
			}
			if payload.SubmittedAt.After(cutoff) {
				continue
			}
			_, err = r.store.GetByTaskID(ctx, payload.TaskID)
			if err == nil {
				continue
			}
			if !errors.Is(err, labelx.ErrRecordNotFound) {
				return rep, fmt.Errorf("read state for %s: %w", payload.TaskID, err)
			}

			rep.Orphans = append(rep.Orphans, payload.TaskID)
			r.opts.OnOrphan(payload.TaskID)
			r.opts.Logger.WarnContext(ctx, "chain without state row", "task_id", payload.TaskID, "queue", q, "state", info.State.String())
			if !r.opts.Backfill {
				continue
			}
			if err := r.store.Insert(ctx, recordFor(payload, info)); err != nil {
				r.opts.Logger.ErrorContext(ctx, "backfill failed", "task_id", payload.TaskID, "error", err)
				continue
			}
			rep.Backfilled++
			r.opts.OnBackfill(payload.TaskID)
		}
	}
	return rep, nil
}

func (r *Reconciler) labelTasks(queue string) ([]*asynq.TaskInfo, error) {
	listers := []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		r.inspector.ListPendingTasks,
		r.inspector.ListScheduledTasks,
		r.inspector.ListActiveTasks,
		r.inspector.ListRetryTasks,
	}
	var out []*asynq.TaskInfo
	for _, list := range listers {
		for page := 1; ; page++ {
			infos, err := list(queue, asynq.PageSize(pageSize), asynq.Page(page))
			if err != nil {
				return nil, fmt.Errorf("inspect queue %s: %w", queue, err)
			}
			for _, info := range infos {
				if info.Type == labelx.TypeLabel {
					out = append(out, info)
				}
			}
			if len(infos) < pageSize {
				break
			}
		}
	}
	return out, nil
}

func recordFor(p labelx.StagePayload, info *asynq.TaskInfo) labelx.TaskStateRecord {
	status := labelx.StatusPending
	switch info.State {
	case asynq.TaskStateActive:
		status = labelx.StatusStarted
	case asynq.TaskStateRetry:
		status = labelx.StatusRetry
	}
	return labelx.TaskStateRecord{
		TaskID:       p.TaskID,
		Stage1Status: status,
		ModelType:    p.Config.ModelType,
		PredictType:  p.Config.PredictType,
		DateRange:    p.Config.DateRange(),
		InputSchema:  p.Config.InputSchema,
		CreatedAt:    p.SubmittedAt,
	}
}
