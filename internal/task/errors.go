package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/nadmax/gpcheck/internal/connection"
)

type ErrorKind string

const (
	KindUnknownConnection ErrorKind = "unknown_connection"
	KindConnection        ErrorKind = "connection_error"
	KindStatement         ErrorKind = "statement_error"
)

// ErrConnect marks failures that happened while establishing the session,
// before the statement was sent.
var ErrConnect = errors.New("connect")

type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

func (e *TaskError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Classify maps an error from resolution or execution onto the task error
// taxonomy.
func Classify(err error) *TaskError {
	if err == nil {
		return nil
	}

	var te *TaskError
	if errors.As(err, &te) {
		return te
	}

	out := &TaskError{Message: err.Error()}

	var pqErr *pq.Error
	hasPQ := errors.As(err, &pqErr)
	if hasPQ {
		out.Code = string(pqErr.Code)
		out.Message = pqErr.Message
	}

	switch {
	case errors.Is(err, connection.ErrUnknownConnection):
		out.Kind = KindUnknownConnection
	case errors.Is(err, ErrConnect):
		out.Kind = KindConnection
		out.Message = err.Error()
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		out.Kind = KindConnection
		out.Message = err.Error()
	case hasPQ:
		out.Kind = classifySQLState(pqErr.Code)
	case errors.Is(err, driver.ErrBadConn),
		isNetError(err):
		out.Kind = KindConnection
	default:
		out.Kind = KindStatement
	}

	return out
}

func classifySQLState(code pq.ErrorCode) ErrorKind {
	switch code.Class() {
	case "08", "28":
		return KindConnection
	}

	switch code {
	case "57P01", "57P02", "57P03":
		return KindConnection
	}

	return KindStatement
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
