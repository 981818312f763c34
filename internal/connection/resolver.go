package connection

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Resolver maps connection identifiers to specs. It is populated once at
// construction and is read-only afterwards, so it is safe for concurrent use.
type Resolver struct {
	specs map[string]*Spec
}

func NewResolver(specs map[string]Spec) *Resolver {
	r := &Resolver{specs: make(map[string]*Spec, len(specs))}
	for id, s := range specs {
		s.Identifier = id
		r.specs[id] = s.clone()
	}

	return r
}

// Resolve returns a copy of the Spec registered under id.
func (r *Resolver) Resolve(id string) (*Spec, error) {
	s, ok := r.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, id)
	}

	return s.clone(), nil
}

func (r *Resolver) Identifiers() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
