// Package report aggregates per-task outcomes of one chain run into a
// run-level status.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/gpcheck/internal/task"
)

type StatusKind string

const (
	StatusAllSucceeded StatusKind = "all_succeeded"
	StatusFailedAt     StatusKind = "failed_at"
	StatusIncomplete   StatusKind = "incomplete"
)

var (
	ErrSealed          = errors.New("report is sealed")
	ErrUnknownTask     = errors.New("task is not part of this run")
	ErrDuplicateRecord = errors.New("task outcome already recorded")
)

type Status struct {
	Kind   StatusKind `json:"kind"`
	TaskID string     `json:"task_id,omitempty"`
}

func AllSucceeded() Status {
	return Status{Kind: StatusAllSucceeded}
}

func FailedAt(taskID string) Status {
	return Status{Kind: StatusFailedAt, TaskID: taskID}
}

func (s Status) String() string {
	if s.Kind == StatusFailedAt {
		return fmt.Sprintf("FailedAt(%s)", s.TaskID)
	}
	return string(s.Kind)
}

type Outcome struct {
	TaskID   string       `json:"task_id"`
	State    task.State   `json:"state"`
	Skipped  bool         `json:"skipped,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Result   *task.Result `json:"result,omitempty"`
	recorded bool
}

// RunReport is written by the single goroutine running the chain and is
// read-only once sealed.
type RunReport struct {
	runID     string
	chainID   string
	createdAt time.Time
	sealedAt  *time.Time
	outcomes  []Outcome
	index     map[string]int
	sealed    bool
}

func New(runID, chainID string, taskIDs []string) *RunReport {
	r := &RunReport{
		runID:     runID,
		chainID:   chainID,
		createdAt: time.Now(),
		outcomes:  make([]Outcome, len(taskIDs)),
		index:     make(map[string]int, len(taskIDs)),
	}

	for i, id := range taskIDs {
		r.outcomes[i] = Outcome{TaskID: id, State: task.StatePending}
		r.index[id] = i
	}

	return r
}

func (r *RunReport) RunID() string   { return r.runID }
func (r *RunReport) ChainID() string { return r.chainID }
func (r *RunReport) Sealed() bool    { return r.sealed }

func (r *RunReport) CreatedAt() time.Time {
	return r.createdAt
}

// DurationMs is the summed execution time of the attempted tasks.
func (r *RunReport) DurationMs() int64 {
	var total int64
	for _, o := range r.outcomes {
		if o.Result != nil {
			total += o.Result.DurationMs
		}
	}
	return total
}

// Record stores the outcome of an attempted task. Each task may be recorded
// once.
func (r *RunReport) Record(taskID string, result task.Result) error {
	o, err := r.slot(taskID)
	if err != nil {
		return err
	}

	o.State = result.State
	o.Result = &result
	o.recorded = true
	return nil
}

// Skip marks a task that was never attempted because an upstream task
// failed. Its state stays Pending.
func (r *RunReport) Skip(taskID, upstream string) error {
	o, err := r.slot(taskID)
	if err != nil {
		return err
	}

	o.Skipped = true
	o.Reason = fmt.Sprintf("skipped due to upstream failure of %s", upstream)
	o.recorded = true
	return nil
}

func (r *RunReport) slot(taskID string) (*Outcome, error) {
	if r.sealed {
		return nil, ErrSealed
	}

	i, ok := r.index[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	if r.outcomes[i].recorded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, taskID)
	}

	return &r.outcomes[i], nil
}

func (r *RunReport) Seal() {
	if r.sealed {
		return
	}
	now := time.Now()
	r.sealedAt = &now
	r.sealed = true
}

// Summarize reports AllSucceeded when every task succeeded, otherwise
// FailedAt the first failing task. A run that stopped without a failure,
// which only happens when the caller abandons it, is Incomplete.
func (r *RunReport) Summarize() Status {
	for _, o := range r.outcomes {
		if o.State == task.StateFailed {
			return FailedAt(o.TaskID)
		}
	}

	for _, o := range r.outcomes {
		if o.State != task.StateSucceeded {
			return Status{Kind: StatusIncomplete}
		}
	}

	return AllSucceeded()
}

// Outcomes returns a copy of the per-task outcomes in chain order.
func (r *RunReport) Outcomes() []Outcome {
	out := make([]Outcome, len(r.outcomes))
	for i, o := range r.outcomes {
		out[i] = o
		if o.Result != nil {
			res := *o.Result
			out[i].Result = &res
		}
	}
	return out
}

func (r *RunReport) Outcome(taskID string) (Outcome, bool) {
	i, ok := r.index[taskID]
	if !ok {
		return Outcome{}, false
	}
	return r.Outcomes()[i], true
}

type reportJSON struct {
	RunID     string     `json:"run_id"`
	ChainID   string     `json:"chain_id"`
	Status    Status     `json:"status"`
	Sealed    bool       `json:"sealed"`
	CreatedAt time.Time  `json:"created_at"`
	SealedAt  *time.Time `json:"sealed_at,omitempty"`
	Outcomes  []Outcome  `json:"outcomes"`
}

func (r *RunReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(reportJSON{
		RunID:     r.runID,
		ChainID:   r.chainID,
		Status:    r.Summarize(),
		Sealed:    r.sealed,
		CreatedAt: r.createdAt,
		SealedAt:  r.sealedAt,
		Outcomes:  r.Outcomes(),
	})
}

// UnmarshalJSON keeps numeric row values as json.Number so int8 results
// above 2^53 survive a round trip.
func (r *RunReport) UnmarshalJSON(data []byte) error {
	var raw reportJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*r = RunReport{
		runID:     raw.RunID,
		chainID:   raw.ChainID,
		createdAt: raw.CreatedAt,
		sealedAt:  raw.SealedAt,
		outcomes:  raw.Outcomes,
		index:     make(map[string]int, len(raw.Outcomes)),
		sealed:    raw.Sealed,
	}
	for i := range r.outcomes {
		r.outcomes[i].recorded = r.outcomes[i].Result != nil || r.outcomes[i].Skipped
		r.index[r.outcomes[i].TaskID] = i
	}

	return nil
}

func (r *RunReport) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func FromJSON(data string) (*RunReport, error) {
	var r RunReport
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}

	return &r, nil
}
