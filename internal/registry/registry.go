// Package registry holds the chain definitions known to the process,
// keyed by their unique chain id.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/nadmax/gpcheck/internal/chain"
)

var (
	ErrDuplicateChain = errors.New("chain already registered")
	ErrChainNotFound  = errors.New("chain not found")
	ErrInvalidTrigger = errors.New("invalid trigger")
)

type Registry struct {
	mu     sync.RWMutex
	chains map[string]*chain.Definition
}

func New() *Registry {
	return &Registry{
		chains: make(map[string]*chain.Definition),
	}
}

func (r *Registry) Register(def *chain.Definition) error {
	if err := r.validateTrigger(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[def.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateChain, def.ID)
	}
	r.chains[def.ID] = def

	return nil
}

func (r *Registry) validateTrigger(def *chain.Definition) error {
	switch def.Trigger {
	case chain.TriggerManual:
		return nil
	case chain.TriggerScheduled:
		if !gronx.New().IsValid(def.Schedule) {
			return fmt.Errorf("%w: chain %s has invalid cron expression %q", ErrInvalidTrigger, def.ID, def.Schedule)
		}
		return nil
	default:
		return fmt.Errorf("%w: chain %s has trigger %q", ErrInvalidTrigger, def.ID, def.Trigger)
	}
}

func (r *Registry) Get(id string) (*chain.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, id)
	}

	return def, nil
}

func (r *Registry) List() []*chain.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*chain.Definition, 0, len(r.chains))
	for _, def := range r.chains {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	return defs
}

// Due returns the scheduled chains whose cron expression matches now and
// whose start date has passed. Missed ticks are not backfilled.
func (r *Registry) Due(now time.Time) []*chain.Definition {
	var due []*chain.Definition
	for _, def := range r.List() {
		if def.Trigger != chain.TriggerScheduled {
			continue
		}
		if !def.StartDate.IsZero() && now.Before(def.StartDate) {
			continue
		}

		gron := gronx.New()
		ok, err := gron.IsDue(def.Schedule, now)
		if err != nil || !ok {
			continue
		}
		due = append(due, def)
	}

	return due
}

// NextRun reports when a scheduled chain fires next after t.
func (r *Registry) NextRun(def *chain.Definition, t time.Time) (time.Time, bool) {
	if def.Trigger != chain.TriggerScheduled {
		return time.Time{}, false
	}

	next, err := gronx.NextTickAfter(def.Schedule, t, false)
	if err != nil {
		return time.Time{}, false
	}

	return next, true
}
