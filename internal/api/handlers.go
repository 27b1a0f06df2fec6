package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/mohans/labelx/internal/logging"
	"github.com/mohans/labelx/internal/metrics"
	"github.com/mohans/labelx/labelx"
)

type TaskCreator interface {
	CreateTask(ctx context.Context, cfg labelx.TaskConfig) (*labelx.Accepted, error)
}

type StatusReader interface {
	GetStatus(ctx context.Context, taskID string) (*labelx.TaskStatus, error)
	ListRecent(ctx context.Context, limit int) ([]labelx.TaskStateRecord, error)
}

type Sampler interface {
	Sample(ctx context.Context, taskID string) (*labelx.Sample, error)
}

// Handlers contains the task endpoints.
type Handlers struct {
	creator TaskCreator
	status  StatusReader
	sampler Sampler
	logger  *slog.Logger
}

func NewHandlers(creator TaskCreator, status StatusReader, sampler Sampler, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{creator: creator, status: status, sampler: sampler, logger: logger}
}

// CreateTask handles POST /api/tasks/
func (h *Handlers) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, errorEnvelope(&labelx.Error{Kind: labelx.KindInvalidConfig, Op: "bind request", Detail: err.Error()}))
		return
	}
	start, err := cast.ToTimeE(req.StartTime)
	if err != nil {
		c.JSON(http.StatusOK, errorEnvelope(&labelx.Error{Kind: labelx.KindInvalidConfig, Op: "bind request", Detail: "start_time: " + err.Error()}))
		return
	}
	end, err := cast.ToTimeE(req.EndTime)
	if err != nil {
		c.JSON(http.StatusOK, errorEnvelope(&labelx.Error{Kind: labelx.KindInvalidConfig, Op: "bind request", Detail: "end_time: " + err.Error()}))
		return
	}

	ctx := c.Request.Context()
	acc, err := h.creator.CreateTask(ctx, labelx.TaskConfig{
		ModelType:   req.ModelType,
		PredictType: req.PredictType,
		StartTime:   start,
		EndTime:     end,
		InputSchema: req.InputSchema,
		Queue:       req.Queue,
		Countdown:   req.Countdown,
	})
	metrics.ObserveCreate(err)
	if err != nil {
		log := logging.FromContext(ctx, h.logger)
		if labelx.IsPartialFailure(err) {
			log.Error("task accepted without state row", "error", err)
		} else {
			log.Warn("task not created", "kind", labelx.KindOf(err), "error", err)
		}
		c.JSON(http.StatusOK, errorEnvelope(err))
		return
	}
	c.JSON(http.StatusOK, Envelope{ErrorCode: http.StatusOK, ErrorMessage: acc})
}

// ListTasks handles GET /api/tasks/?limit=N
func (h *Handlers) ListTasks(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil {
			c.JSON(http.StatusOK, errorEnvelope(&labelx.Error{Kind: labelx.KindInvalidConfig, Op: "list tasks", Detail: "limit must be an integer"}))
			return
		}
		limit = n
	}
	recs, err := h.status.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusOK, errorEnvelope(err))
		return
	}
	c.JSON(http.StatusOK, ListEnvelope{Envelope: okEnvelope(), Content: recs})
}

// GetTask handles GET /api/tasks/:task_id
func (h *Handlers) GetTask(c *gin.Context) {
	taskID := c.Param("task_id")
	st, err := h.status.GetStatus(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusOK, StatusEnvelope{Envelope: errorEnvelope(err), TaskID: taskID})
		return
	}
	resp := StatusEnvelope{
		Envelope:     okEnvelope(),
		TaskID:       st.TaskID,
		Stage1Status: &st.Stage1Status,
		Result:       &st.Result,
		Phase:        st.Phase,
	}
	if st.Stage2Status != "" {
		resp.Stage2Status = &st.Stage2Status
	}
	c.JSON(http.StatusOK, resp)
}

// SampleTask handles GET /api/tasks/:task_id/sample/
func (h *Handlers) SampleTask(c *gin.Context) {
	taskID := c.Param("task_id")
	sample, err := h.sampler.Sample(c.Request.Context(), taskID)
	if err != nil {
		status := http.StatusOK
		if labelx.KindOf(err) == labelx.KindQuery {
			status = http.StatusBadRequest
			logging.FromContext(c.Request.Context(), h.logger).Error("sample query failed", "task_id", taskID, "error", err)
		}
		c.JSON(status, errorEnvelope(err))
		return
	}
	c.JSON(http.StatusOK, SampleEnvelope{
		Envelope: Envelope{ErrorCode: http.StatusOK, ErrorMessage: sample.Rows},
		Tables:   sample.Tables,
	})
}

func okEnvelope() Envelope {
	return Envelope{ErrorCode: http.StatusOK, ErrorMessage: "OK"}
}

func errorEnvelope(err error) Envelope {
	var e *labelx.Error
	if errors.As(err, &e) {
		return Envelope{ErrorCode: e.Code(), ErrorKind: string(e.Kind), ErrorMessage: e.Message()}
	}
	return Envelope{ErrorCode: http.StatusInternalServerError, ErrorMessage: "internal error"}
}
