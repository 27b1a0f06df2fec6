package labelx

import (
	"errors"
	"fmt"
)

// Kind identifies a failure. Callers branch on Kind (or its Code), never on the message.
type Kind string

const (
	KindInvalidTimeRange      Kind = "invalid_time_range"
	KindInvalidConfig         Kind = "invalid_config"
	KindPatternResolution     Kind = "pattern_resolution"
	KindStateStoreUnavailable Kind = "state_store_unavailable"
	KindDispatch              Kind = "dispatch"
	KindStateWrite            Kind = "state_write"
	KindStateRead             Kind = "state_read"
	KindNotFound              Kind = "not_found"
	KindMalformedTaskID       Kind = "malformed_task_id"
	KindEmptyResult           Kind = "empty_result"
	KindQuery                 Kind = "query"
)

// Class groups kinds by how the caller should react.
type Class string

const (
	ClassValidation            Class = "ValidationError"
	ClassDependencyUnavailable Class = "DependencyUnavailable"
	ClassPartialFailure        Class = "PartialFailure"
	ClassNotFound              Class = "NotFound"
	ClassMalformedInput        Class = "MalformedInput"
	ClassEmptyResult           Class = "EmptyResult"
)

type kindInfo struct {
	class   Class
	code    int
	message string
}

var kinds = map[Kind]kindInfo{
	KindInvalidTimeRange:      {ClassValidation, 400, "start_time must be earlier than end_time"},
	KindInvalidConfig:         {ClassValidation, 400, "invalid task configuration"},
	KindPatternResolution:     {ClassValidation, 501, "cannot read pattern file, probably unknown file path or file is not exist"},
	KindStateStoreUnavailable: {ClassDependencyUnavailable, 503, "cannot connect to output schema"},
	KindDispatch:              {ClassDependencyUnavailable, 500, "failed to start a labeling task"},
	KindStateWrite:            {ClassPartialFailure, 500, "labeling task started but its state row could not be written"},
	KindStateRead:             {ClassDependencyUnavailable, 500, "cannot connect to state table"},
	KindNotFound:              {ClassNotFound, 404, "task id is not exist, plz re-check the task id"},
	KindMalformedTaskID:       {ClassMalformedInput, 400, "task id is not in proper format"},
	KindEmptyResult:           {ClassEmptyResult, 404, "empty result, probably wrong task_id or the task has not finished, please check /api/tasks/{task_id} first"},
	KindQuery:                 {ClassDependencyUnavailable, 500, "cannot scrape data from result tables"},
}

// Code is the stable numeric code reported to clients.
func (k Kind) Code() int {
	if info, ok := kinds[k]; ok {
		return info.code
	}
	return 500
}

// Class reports the taxonomy class of k.
func (k Kind) Class() Class {
	if info, ok := kinds[k]; ok {
		return info.class
	}
	return ClassDependencyUnavailable
}

// Error is the failure outcome of every labelx operation.
type Error struct {
	Kind   Kind
	Op     string
	TaskID string
	Detail string
	Err    error
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Message is the human-readable text for clients: the kind's fixed text plus detail.
func (e *Error) Message() string {
	msg := kinds[e.Kind].message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg = e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s, additional error message: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Error() string {
	s := e.Op + ": " + string(e.Kind)
	if e.TaskID != "" {
		s += " (task " + e.TaskID + ")"
	}
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Code is shorthand for e.Kind.Code().
func (e *Error) Code() int { return e.Kind.Code() }

// KindOf returns the Kind carried by err, or "" when err is not a labelx error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the client code for err; unknown errors map to 500.
func CodeOf(err error) int {
	if k := KindOf(err); k != "" {
		return k.Code()
	}
	return 500
}

// IsPartialFailure reports whether err means the chain was dispatched but its
// state row is missing.
func IsPartialFailure(err error) bool {
	return KindOf(err).Class() == ClassPartialFailure
}
