// Package task defines the query task: a single SQL statement bound to a
// named connection, with its own lifecycle state and captured outcome.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nadmax/gpcheck/internal/connection"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

type Resolver interface {
	Resolve(id string) (*connection.Spec, error)
}

// Executor issues a statement against a resolved connection and returns the
// rows of the last result set that produced columns.
type Executor interface {
	Execute(ctx context.Context, spec *connection.Spec, statement string) (*Rows, error)
}

// Rows is the column names and values of one result set.
type Rows struct {
	Columns []string `json:"columns"`
	Values  [][]any  `json:"rows"`
}

// Result is the captured outcome of one task execution.
type Result struct {
	State       State      `json:"state"`
	Columns     []string   `json:"columns,omitempty"`
	Rows        [][]any    `json:"rows,omitempty"`
	RowCount    int        `json:"row_count"`
	Error       *TaskError `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
}

func (r Result) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// QueryTask runs one SQL statement against a named connection, once.
type QueryTask struct {
	ID           string
	ConnectionID string
	Statement    string

	state  State
	result Result
}

func NewQueryTask(id, connectionID, statement string) *QueryTask {
	return &QueryTask{
		ID:           id,
		ConnectionID: connectionID,
		Statement:    statement,
		state:        StatePending,
		result:       Result{State: StatePending},
	}
}

func (t *QueryTask) State() State {
	return t.state
}

func (t *QueryTask) Result() Result {
	return t.result
}

// Execute runs the statement once. Failures are captured in the returned
// result; they are never retried. Calling Execute on a task that has
// already left Pending returns its current result untouched.
func (t *QueryTask) Execute(ctx context.Context, resolver Resolver, executor Executor) Result {
	if t.state != StatePending {
		return t.result
	}

	started := time.Now()
	t.state = StateRunning
	t.result = Result{State: StateRunning, StartedAt: &started}

	if strings.TrimSpace(t.Statement) == "" {
		return t.fail(started, &TaskError{Kind: KindStatement, Message: "empty statement"})
	}

	spec, err := resolver.Resolve(t.ConnectionID)
	if err != nil {
		return t.fail(started, Classify(err))
	}

	rows, err := executor.Execute(ctx, spec, t.Statement)
	if err != nil {
		return t.fail(started, Classify(err))
	}

	completed := time.Now()
	t.state = StateSucceeded
	t.result.State = StateSucceeded
	t.result.CompletedAt = &completed
	t.result.DurationMs = completed.Sub(started).Milliseconds()
	if rows != nil {
		t.result.Columns = rows.Columns
		t.result.Rows = rows.Values
		t.result.RowCount = len(rows.Values)
	}

	return t.result
}

func (t *QueryTask) fail(started time.Time, taskErr *TaskError) Result {
	completed := time.Now()
	t.state = StateFailed
	t.result.State = StateFailed
	t.result.Error = taskErr
	t.result.CompletedAt = &completed
	t.result.DurationMs = completed.Sub(started).Milliseconds()
	return t.result
}

func (r Result) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// ResultFromJSON decodes numeric row values as json.Number, not float64.
func ResultFromJSON(data string) (*Result, error) {
	var r Result
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}

	return &r, nil
}

// Summary is a single-line rendering of the result for operator logs.
func (r Result) Summary() string {
	switch r.State {
	case StateSucceeded:
		if len(r.Rows) == 0 {
			return fmt.Sprintf("succeeded in %dms (no rows)", r.DurationMs)
		}
		return fmt.Sprintf("succeeded in %dms: %s", r.DurationMs, formatRow(r.Columns, r.Rows[0]))
	case StateFailed:
		if r.Error == nil {
			return "failed"
		}
		return "failed: " + r.Error.Error()
	default:
		return string(r.State)
	}
}

func formatRow(columns []string, row []any) string {
	parts := make([]string, 0, len(row))
	for i, v := range row {
		name := fmt.Sprintf("col%d", i+1)
		if i < len(columns) {
			name = columns[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%v", name, v))
	}
	return strings.Join(parts, ", ")
}
