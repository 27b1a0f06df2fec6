package labelx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names of the two chained stages.
const (
	TypeLabel    = "labelx:label"
	TypeGenerate = "labelx:generate"
)

// StagePayload is the JSON body of both stage tasks.
type StagePayload struct {
	TaskID             string     `json:"task_id"`
	Config             TaskConfig `json:"config"`
	Queue              string     `json:"queue"`
	Stage2DelaySeconds int        `json:"stage2_delay_seconds"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	RunIDs             []string   `json:"run_ids,omitempty"` // set on the generate stage only
}

// DecodeStagePayload parses a stage task body.
func DecodeStagePayload(b []byte) (StagePayload, error) {
	var p StagePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return StagePayload{}, fmt.Errorf("decode stage payload: %w", err)
	}
	if p.TaskID == "" {
		return StagePayload{}, errors.New("decode stage payload: missing task_id")
	}
	return p, nil
}

// ChainHandle is what is known about a chain right after submission.
type ChainHandle struct {
	TaskID string
	Queue  string
	Status Status
}

// Pipeline submits the label -> generate chain for a task.
// SubmitChain returns a dispatch *Error when the chain could not be queued;
// in that case nothing will run for the task id.
type Pipeline interface {
	SubmitChain(ctx context.Context, taskID string, cfg TaskConfig, queue string, stage2Delay time.Duration) (*ChainHandle, error)
}

// AsynqPipeline implements Pipeline on an asynq client. The generate stage is
// enqueued by the Processor once the label stage succeeded.
type AsynqPipeline struct {
	client       *asynq.Client
	maxRetry     int
	stageTimeout time.Duration
}

type PipelineOptions struct {
	MaxRetry     int           // per stage; 0 disables retries
	StageTimeout time.Duration // 0 keeps the asynq default
}

func NewAsynqPipeline(redisOpt asynq.RedisConnOpt, opts PipelineOptions) *AsynqPipeline {
	return &AsynqPipeline{
		client:       asynq.NewClient(redisOpt),
		maxRetry:     opts.MaxRetry,
		stageTimeout: opts.StageTimeout,
	}
}

func (p *AsynqPipeline) SubmitChain(ctx context.Context, taskID string, cfg TaskConfig, queue string, stage2Delay time.Duration) (*ChainHandle, error) {
	const op = "submit chain"
	if p.client == nil {
		return nil, &Error{Kind: KindDispatch, Op: op, TaskID: taskID, Err: errors.New("nil asynq client")}
	}
	payload := StagePayload{
		TaskID:             taskID,
		Config:             cfg,
		Queue:              queue,
		Stage2DelaySeconds: int(stage2Delay / time.Second),
		SubmittedAt:        time.Now().UTC(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindDispatch, Op: op, TaskID: taskID, Err: err}
	}
	t := asynq.NewTask(TypeLabel, b)
	info, err := p.client.EnqueueContext(ctx, t, p.options(queue, taskID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, &Error{Kind: KindDispatch, Op: op, TaskID: taskID, Detail: "a chain for this task id is already outstanding", Err: err}
	}
	if err != nil {
		return nil, &Error{Kind: KindDispatch, Op: op, TaskID: taskID, Err: err}
	}
	return &ChainHandle{TaskID: taskID, Queue: info.Queue, Status: StatusPending}, nil
}

// enqueueGenerate queues stage 2. A conflict means it is already queued.
func (p *AsynqPipeline) enqueueGenerate(ctx context.Context, payload StagePayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	opts := p.options(payload.Queue, GenerateTaskID(payload.TaskID))
	if payload.Stage2DelaySeconds > 0 {
		opts = append(opts, asynq.ProcessIn(time.Duration(payload.Stage2DelaySeconds)*time.Second))
	}
	_, err = p.client.EnqueueContext(ctx, asynq.NewTask(TypeGenerate, b), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (p *AsynqPipeline) options(queue, id string) []asynq.Option {
	if queue == "" {
		queue = "default"
	}
	opts := []asynq.Option{asynq.Queue(queue), asynq.TaskID(id), asynq.MaxRetry(p.maxRetry)}
	if p.stageTimeout > 0 {
		opts = append(opts, asynq.Timeout(p.stageTimeout))
	}
	return opts
}

// GenerateTaskID is the queue-level id of a task's generate stage.
func GenerateTaskID(taskID string) string {
	return taskID + ":generate"
}

func (p *AsynqPipeline) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

var _ Pipeline = (*AsynqPipeline)(nil)
