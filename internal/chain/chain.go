// Package chain runs an ordered sequence of query tasks with strict linear
// precedence, stopping at the first failure.
package chain

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/gpcheck/internal/report"
	"github.com/nadmax/gpcheck/internal/task"
)

type State string

const (
	StateNotStarted       State = "not_started"
	StateRunning          State = "running"
	StateCompletedSuccess State = "completed_success"
	StateCompletedFailure State = "completed_failure"
)

var ErrAlreadyRun = errors.New("chain run already started")

// Observer receives state transitions as they happen. Calls are made
// synchronously from the goroutine running the chain.
type Observer interface {
	TaskTransition(runID, taskID string, from, to task.State)
	ChainTransition(runID string, from, to State)
}

// Definition is the immutable template of a chain. Each run gets fresh
// tasks through NewRun.
type Definition struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Trigger     Trigger    `json:"trigger"`
	Schedule    string     `json:"schedule,omitempty"`
	StartDate   time.Time  `json:"start_date"`
	Tags        []string   `json:"tags"`
	Tasks       []TaskSpec `json:"tasks"`
}

func (d *Definition) TaskIDs() []string {
	ids := make([]string, len(d.Tasks))
	for i, t := range d.Tasks {
		ids[i] = t.ID
	}
	return ids
}

func (d *Definition) NewRun() *Chain {
	return d.NewRunWithID(uuid.New().String())
}

func (d *Definition) NewRunWithID(runID string) *Chain {
	tasks := make([]*task.QueryTask, len(d.Tasks))
	for i, t := range d.Tasks {
		tasks[i] = task.NewQueryTask(t.ID, t.ConnectionID, t.Statement)
	}

	return &Chain{
		runID:   runID,
		def:     d,
		tasks:   tasks,
		state:   StateNotStarted,
		report:  report.New(runID, d.ID, d.TaskIDs()),
		observe: nopObserver{},
	}
}

// Chain is a single run of a Definition. It can be run at most once.
type Chain struct {
	runID   string
	def     *Definition
	tasks   []*task.QueryTask
	state   State
	report  *report.RunReport
	observe Observer
}

func (c *Chain) RunID() string            { return c.runID }
func (c *Chain) Definition() *Definition  { return c.def }
func (c *Chain) State() State             { return c.state }
func (c *Chain) Tasks() []*task.QueryTask { return append([]*task.QueryTask(nil), c.tasks...) }

func (c *Chain) SetObserver(o Observer) *Chain {
	if o == nil {
		o = nopObserver{}
	}
	c.observe = o
	return c
}

// Run executes the tasks in order and returns the sealed report. Task
// failures are expressed in the report, never as an error; the only error
// is ErrAlreadyRun for a chain that has been started before.
func (c *Chain) Run(ctx context.Context, resolver task.Resolver, executor task.Executor) (*report.RunReport, error) {
	if c.state != StateNotStarted {
		return nil, ErrAlreadyRun
	}

	c.transition(StateRunning)
	log.Printf("[Run %s] Starting chain %s (%d tasks)", c.runID, c.def.ID, len(c.tasks))

	failedAt := ""
	for _, t := range c.tasks {
		if failedAt != "" {
			if err := c.report.Skip(t.ID, failedAt); err != nil {
				log.Printf("[Run %s] Failed to record skipped task %s: %v", c.runID, t.ID, err)
			}
			continue
		}

		c.observe.TaskTransition(c.runID, t.ID, task.StatePending, task.StateRunning)
		res := t.Execute(ctx, resolver, executor)
		c.observe.TaskTransition(c.runID, t.ID, task.StateRunning, res.State)

		if err := c.report.Record(t.ID, res); err != nil {
			log.Printf("[Run %s] Failed to record task %s: %v", c.runID, t.ID, err)
		}

		log.Printf("[Run %s] Task %s %s", c.runID, t.ID, res.Summary())

		if res.State == task.StateFailed {
			failedAt = t.ID
		}
	}

	c.report.Seal()

	if failedAt != "" {
		c.transition(StateCompletedFailure)
		log.Printf("[Run %s] Chain %s stopped: %s", c.runID, c.def.ID, c.report.Summarize())
	} else {
		c.transition(StateCompletedSuccess)
		log.Printf("[Run %s] Chain %s completed successfully", c.runID, c.def.ID)
	}

	return c.report, nil
}

func (c *Chain) transition(to State) {
	from := c.state
	c.state = to
	c.observe.ChainTransition(c.runID, from, to)
}

type nopObserver struct{}

func (nopObserver) TaskTransition(string, string, task.State, task.State) {}
func (nopObserver) ChainTransition(string, State, State)                  {}
