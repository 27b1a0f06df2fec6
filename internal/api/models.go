package api

import "github.com/mohans/labelx/labelx"

// CreateTaskRequest is the body of POST /api/tasks/. Times accept RFC 3339,
// "2006-01-02 15:04:05" or a bare date.
type CreateTaskRequest struct {
	ModelType   string `json:"model_type" binding:"required"`
	PredictType string `json:"predict_type" binding:"required"`
	StartTime   string `json:"start_time" binding:"required"`
	EndTime     string `json:"end_time" binding:"required"`
	InputSchema string `json:"input_schema"`
	Queue       string `json:"queue"`
	Countdown   int    `json:"countdown" binding:"min=0"`
}

// Envelope is the legacy response shape; error_code carries the outcome and
// the HTTP status is 200 unless noted on the route.
type Envelope struct {
	ErrorCode    int    `json:"error_code"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage any    `json:"error_message"`
}

type StatusEnvelope struct {
	Envelope
	TaskID       string         `json:"task_id"`
	Stage1Status *labelx.Status `json:"stage1_status"`
	Stage2Status *labelx.Status `json:"stage2_status"`
	Result       *string        `json:"result"`
	Phase        labelx.Phase   `json:"phase,omitempty"`
}

type ListEnvelope struct {
	Envelope
	Content []labelx.TaskStateRecord `json:"content"`
}

type SampleEnvelope struct {
	Envelope
	Tables []string `json:"tables,omitempty"`
}

type HealthResponse struct {
	Status      string            `json:"status"`
	Title       string            `json:"title"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Checks      map[string]string `json:"checks"`
}
