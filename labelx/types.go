package labelx

import (
	"fmt"
	"time"
)

// Status is a stage status as recorded in the state table.
// Valid values mirror the queue engine's task states.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusRetry   Status = "RETRY"
	StatusRevoked Status = "REVOKED"
)

// Valid reports whether s is one of the known stage statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStarted, StatusSuccess, StatusFailure, StatusRetry, StatusRevoked:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is expected for a stage in status s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

// DateRangeLayout formats the denormalized date_range column.
const DateRangeLayout = "2006-01-02 15:04:05"

// TaskConfig describes one labeling run over [StartTime, EndTime).
type TaskConfig struct {
	ModelType   string    `json:"model_type"`
	PredictType string    `json:"predict_type"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	InputSchema string    `json:"input_schema"`
	Queue       string    `json:"queue"`
	Countdown   int       `json:"countdown"` // seconds before stage 2 is dispatched

	// Pattern is resolved by the Validator and travels to the workers. It is
	// never part of an outcome returned to callers.
	Pattern *Pattern `json:"pattern,omitempty"`
}

// DateRange renders the window the way it is stored in the state table.
func (c TaskConfig) DateRange() string {
	return fmt.Sprintf("%s - %s", c.StartTime.Format(DateRangeLayout), c.EndTime.Format(DateRangeLayout))
}

// Stage2Delay is Countdown as a duration.
func (c TaskConfig) Stage2Delay() time.Duration {
	return time.Duration(c.Countdown) * time.Second
}

// TaskStateRecord is the persisted lifecycle row of one task.
// Stage2Status is empty until the label stage has succeeded.
type TaskStateRecord struct {
	TaskID       string    `json:"task_id"`
	Stage1Status Status    `json:"stage1_status"`
	Stage2Status Status    `json:"stage2_status,omitempty"`
	ModelType    string    `json:"model_type"`
	PredictType  string    `json:"predict_type"`
	DateRange    string    `json:"date_range"`
	InputSchema  string    `json:"input_schema"`
	CreatedAt    time.Time `json:"created_at"`
	Result       string    `json:"result"`
}

// Accepted is the success outcome of CreateTask: the normalized request plus its task id.
type Accepted struct {
	TaskID      string    `json:"task_id"`
	ModelType   string    `json:"model_type"`
	PredictType string    `json:"predict_type"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	InputSchema string    `json:"input_schema"`
	Queue       string    `json:"queue"`
	Countdown   int       `json:"countdown"`
	DateRange   string    `json:"date_range"`
}

// TaskStatus is what a status poll reports.
type TaskStatus struct {
	TaskID       string `json:"task_id"`
	Stage1Status Status `json:"stage1_status"`
	Stage2Status Status `json:"stage2_status,omitempty"`
	Result       string `json:"result"`
	Phase        Phase  `json:"phase"`
}

// Phase is the orchestrator-level view of a task derived from its two stage statuses.
type Phase string

const (
	PhaseAccepted      Phase = "ACCEPTED"
	PhaseStage1Running Phase = "STAGE1_RUNNING"
	PhaseStage1Failed  Phase = "STAGE1_FAILED"
	PhaseStage2Running Phase = "STAGE2_RUNNING"
	PhaseStage2Failed  Phase = "STAGE2_FAILED"
	PhaseCompleted     Phase = "COMPLETED"
)

// PhaseOf maps a state row onto the task state machine.
func PhaseOf(rec TaskStateRecord) Phase {
	switch rec.Stage1Status {
	case StatusFailure, StatusRevoked:
		return PhaseStage1Failed
	case StatusSuccess:
		switch rec.Stage2Status {
		case StatusSuccess:
			return PhaseCompleted
		case StatusFailure, StatusRevoked:
			return PhaseStage2Failed
		default:
			return PhaseStage2Running
		}
	case StatusStarted, StatusRetry:
		return PhaseStage1Running
	default:
		return PhaseAccepted
	}
}

// Sample is the result of a sample query over a task's result tables.
type Sample struct {
	TaskID string           `json:"task_id"`
	Tables []string         `json:"tables"`
	Rows   []map[string]any `json:"rows"`
}
