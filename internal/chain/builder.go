package chain

import (
	"errors"
	"fmt"
	"time"
)

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

var (
	ErrEmptyChain      = errors.New("chain has no tasks")
	ErrDuplicateTask   = errors.New("duplicate task id")
	ErrUnknownTask     = errors.New("dependency references unknown task")
	ErrNotLinear       = errors.New("dependencies do not form a single linear chain")
	ErrCycle           = errors.New("dependencies contain a cycle")
	ErrInvalidChainID  = errors.New("chain id is required")
	ErrInvalidTaskSpec = errors.New("task id and connection are required")
)

type TaskSpec struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection"`
	Statement    string `json:"sql"`
}

type Builder struct {
	def   Definition
	edges [][2]string
}

func NewBuilder(id string) *Builder {
	return &Builder{def: Definition{ID: id, Trigger: TriggerManual}}
}

func (b *Builder) Description(d string) *Builder {
	b.def.Description = d
	return b
}

func (b *Builder) Manual() *Builder {
	b.def.Trigger = TriggerManual
	b.def.Schedule = ""
	return b
}

// Scheduled marks the chain as cron-triggered. The expression is validated
// when the chain is registered.
func (b *Builder) Scheduled(cronExpr string) *Builder {
	b.def.Trigger = TriggerScheduled
	b.def.Schedule = cronExpr
	return b
}

func (b *Builder) StartDate(t time.Time) *Builder {
	b.def.StartDate = t
	return b
}

func (b *Builder) Tags(tags ...string) *Builder {
	b.def.Tags = append(b.def.Tags, tags...)
	return b
}

func (b *Builder) AddTask(id, connectionID, statement string) *Builder {
	b.def.Tasks = append(b.def.Tasks, TaskSpec{ID: id, ConnectionID: connectionID, Statement: statement})
	return b
}

// AddDependency declares that upstream must complete before downstream
// starts.
func (b *Builder) AddDependency(upstream, downstream string) *Builder {
	b.edges = append(b.edges, [2]string{upstream, downstream})
	return b
}

// Build validates the tasks and dependencies and orders the tasks. Without
// declared dependencies the insertion order is the chain.
func (b *Builder) Build() (*Definition, error) {
	if b.def.ID == "" {
		return nil, ErrInvalidChainID
	}
	if len(b.def.Tasks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyChain, b.def.ID)
	}

	byID := make(map[string]TaskSpec, len(b.def.Tasks))
	for _, t := range b.def.Tasks {
		if t.ID == "" || t.ConnectionID == "" {
			return nil, fmt.Errorf("%w: %+v", ErrInvalidTaskSpec, t)
		}
		if _, ok := byID[t.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		byID[t.ID] = t
	}

	def := b.def
	def.Tags = append([]string(nil), b.def.Tags...)

	if len(b.edges) == 0 {
		def.Tasks = append([]TaskSpec(nil), b.def.Tasks...)
		return &def, nil
	}

	order, err := linearOrder(b.def.Tasks, b.edges)
	if err != nil {
		return nil, err
	}

	def.Tasks = make([]TaskSpec, 0, len(order))
	for _, id := range order {
		def.Tasks = append(def.Tasks, byID[id])
	}

	return &def, nil
}

// linearOrder topologically sorts the tasks (Kahn) and rejects any graph
// that is not one straight chain.
func linearOrder(tasks []TaskSpec, edges [][2]string) ([]string, error) {
	next := make(map[string]string, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		inDegree[t.ID] = 0
	}

	seen := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		up, down := e[0], e[1]
		if _, ok := inDegree[up]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTask, up)
		}
		if _, ok := inDegree[down]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTask, down)
		}
		if up == down {
			return nil, fmt.Errorf("%w: %s depends on itself", ErrCycle, up)
		}
		if seen[e] {
			continue
		}
		seen[e] = true

		if existing, ok := next[up]; ok {
			return nil, fmt.Errorf("%w: %s has downstream tasks %s and %s", ErrNotLinear, up, existing, down)
		}
		next[up] = down
		inDegree[down]++
		if inDegree[down] > 1 {
			return nil, fmt.Errorf("%w: %s has more than one upstream task", ErrNotLinear, down)
		}
	}

	var roots []string
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			roots = append(roots, t.ID)
		}
	}

	if len(roots) == 0 {
		return nil, ErrCycle
	}
	if len(roots) > 1 {
		return nil, fmt.Errorf("%w: independent heads %v", ErrNotLinear, roots)
	}

	order := make([]string, 0, len(tasks))
	for id, ok := roots[0], true; ok; id, ok = next[id] {
		order = append(order, id)
		if len(order) > len(tasks) {
			return nil, ErrCycle
		}
	}

	if len(order) != len(tasks) {
		return nil, ErrCycle
	}

	return order, nil
}
