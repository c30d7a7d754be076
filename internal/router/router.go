// Package router picks the next validation stage for a task. Two
// implementations exist: a deterministic keyword heuristic and an
// LLM-backed router that degrades to the heuristic on any provider
// trouble. The router only proposes; the Order Guard still vets every
// proposal before execution.
package router

import (
	"context"
	"errors"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/guard"
)

// State is the session history the router reasons over.
type State struct {
	Executed       []guard.Execution
	SessionContext map[string]any
}

// Decision names the chosen stage and why it was chosen. TokensUsed is
// the model spend behind the decision; zero for the heuristic.
type Decision struct {
	Eye        eyes.ID `json:"eye"`
	Reasoning  string  `json:"reasoning"`
	TokensUsed int     `json:"tokens_used,omitempty"`
}

// Router proposes the next stage for a task.
type Router interface {
	Name() string
	Route(ctx context.Context, task string, state State) (Decision, error)
}

// ErrExhausted means every stage in the task's flow already has a
// passing run; the caller decides whether that is completion or a stall.
var ErrExhausted = errors.New("no eligible stage remains")

// passedSet indexes the history by stages with at least one passing run.
func passedSet(executed []guard.Execution) map[eyes.ID]bool {
	passed := make(map[eyes.ID]bool, len(executed))
	for _, run := range executed {
		if run.OK {
			passed[run.Eye] = true
		}
	}
	return passed
}
