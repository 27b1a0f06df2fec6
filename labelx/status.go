package labelx

import (
	"context"
	"errors"
	"log/slog"
)

// StatusService answers status polls straight from the state store.
type StatusService struct {
	store       Store
	logger      *slog.Logger
	recentLimit int
}

func NewStatusService(store Store, logger *slog.Logger, recentLimit int) *StatusService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if recentLimit <= 0 {
		recentLimit = 20
	}
	return &StatusService{store: store, logger: logger, recentLimit: recentLimit}
}

// GetStatus reports both stage statuses and the result payload. An unknown
// id is a KindNotFound *Error; clients commonly poll before the row exists.
func (s *StatusService) GetStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	const op = "get status"
	rec, err := s.store.GetByTaskID(ctx, taskID)
	if errors.Is(err, ErrRecordNotFound) {
		s.logger.DebugContext(ctx, "status for unknown task", "task_id", taskID)
		return nil, &Error{Kind: KindNotFound, Op: op, TaskID: taskID}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "status read failed", "task_id", taskID, "error", err)
		return nil, &Error{Kind: KindStateRead, Op: op, TaskID: taskID, Err: err}
	}
	return &TaskStatus{
		TaskID:       rec.TaskID,
		Stage1Status: rec.Stage1Status,
		Stage2Status: rec.Stage2Status,
		Result:       rec.Result,
		Phase:        PhaseOf(*rec),
	}, nil
}

// ListRecent returns the newest state rows first. limit <= 0 uses the configured default.
func (s *StatusService) ListRecent(ctx context.Context, limit int) ([]TaskStateRecord, error) {
	if limit <= 0 || limit > s.recentLimit {
		limit = s.recentLimit
	}
	recs, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "list tasks failed", "error", err)
		return nil, newError(KindStateRead, "list tasks", err)
	}
	if recs == nil {
		recs = []TaskStateRecord{}
	}
	return recs, nil
}
