// Package eyes implements the validation stages a task is routed
// through. Every stage ("eye") is a pure decision function behind the
// same interface: payload in, envelope out, no I/O and no clock. The set
// of stages is closed and registered once at startup.
package eyes

import "fmt"

// ID names a stage. The enumeration is closed; ParseID rejects anything
// outside it so unknown stages fail at the boundary, not mid-run.
type ID string

const (
	Clarify        ID = "clarify"
	Requirements   ID = "requirements"
	PlanReview     ID = "plan_review"
	ScaffoldReview ID = "scaffold_review"
	ImplReview     ID = "impl_review"
	TestsReview    ID = "tests_review"
	DocsReview     ID = "docs_review"
	Consistency    ID = "consistency"
	Evidence       ID = "evidence"
	FinalReview    ID = "final_review"
	Approval       ID = "approval"
	Memory         ID = "memory"

	// Router is not an eye; it names the routing step in run records so
	// session history can carry routing decisions next to stage runs.
	Router ID = "router"
)

// Order is the canonical stage order. Registry listings, heuristic
// routing and guard defaults all derive from it.
var Order = []ID{
	Clarify,
	Requirements,
	PlanReview,
	ScaffoldReview,
	ImplReview,
	TestsReview,
	DocsReview,
	Consistency,
	Evidence,
	FinalReview,
	Approval,
	Memory,
}

var known = func() map[ID]struct{} {
	m := make(map[ID]struct{}, len(Order)+1)
	for _, id := range Order {
		m[id] = struct{}{}
	}
	m[Router] = struct{}{}
	return m
}()

// ParseID validates wire input against the closed stage set.
func ParseID(s string) (ID, error) {
	id := ID(s)
	if _, ok := known[id]; !ok {
		return "", fmt.Errorf("unknown eye %q", s)
	}
	return id, nil
}

// Valid reports whether the id belongs to the closed set.
func (id ID) Valid() bool {
	_, ok := known[id]
	return ok
}

func (id ID) String() string { return string(id) }
