package eyes

import (
	"errors"
	"fmt"
)

// ErrNotRegistered is returned when a stage id has no implementation.
var ErrNotRegistered = errors.New("eye not registered")

// Registry maps every stage id to its implementation. It is built once
// at startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	eyes map[ID]Eye
}

// NewRegistry builds the registry with every built-in eye registered.
// The stage set is closed: there is no public register method.
func NewRegistry() *Registry {
	r := &Registry{eyes: make(map[ID]Eye, len(Order))}
	for _, eye := range []Eye{
		&ClarifyEye{},
		&RequirementsEye{},
		&PlanReviewEye{},
		&ScaffoldReviewEye{},
		&ImplReviewEye{},
		&TestsReviewEye{},
		&DocsReviewEye{},
		&ConsistencyEye{},
		&EvidenceEye{},
		&FinalReviewEye{},
		&ApprovalEye{},
		&MemoryEye{},
	} {
		r.eyes[eye.ID()] = eye
	}
	return r
}

// Get resolves a stage id to its implementation.
func (r *Registry) Get(id ID) (Eye, error) {
	eye, ok := r.eyes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return eye, nil
}

// All returns every registered eye in canonical order.
func (r *Registry) All() []Eye {
	out := make([]Eye, 0, len(r.eyes))
	for _, id := range Order {
		if eye, ok := r.eyes[id]; ok {
			out = append(out, eye)
		}
	}
	return out
}
