package router

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/guard"
	"github.com/arguslabs/argus/internal/metrics"
)

// codeSignals classifies a task as a build/change request rather than a
// prose or factual one. The two flows visit different review stages.
var codeSignals = regexp.MustCompile(`(?i)\b(implement|fix|refactor|debug|bug|code|function|class|method|api|endpoint|server|client|service|build|compile|deploy|migrate|migration|schema|database|query|script|module|package|library|cli|parser|regex|test|tests|coverage|lint|release)\b`)

var rememberSignal = regexp.MustCompile(`(?i)\bremember:`)

// codeFlow walks the full engineering review chain; proseFlow checks
// claims and internal consistency instead of build artifacts.
var (
	codeFlow = []eyes.ID{
		eyes.Clarify,
		eyes.Requirements,
		eyes.PlanReview,
		eyes.ScaffoldReview,
		eyes.ImplReview,
		eyes.TestsReview,
		eyes.DocsReview,
		eyes.FinalReview,
		eyes.Approval,
	}
	proseFlow = []eyes.ID{
		eyes.Clarify,
		eyes.Consistency,
		eyes.Evidence,
		eyes.FinalReview,
		eyes.Approval,
	}
)

// Heuristic routes by canonical flow position: first stage without a
// passing run whose guard prerequisites hold. Identical inputs always
// produce identical decisions.
type Heuristic struct {
	guard  *guard.Guard
	logger *zap.Logger
}

func NewHeuristic(g *guard.Guard, logger *zap.Logger) *Heuristic {
	return &Heuristic{guard: g, logger: logger}
}

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Route(ctx context.Context, task string, state State) (Decision, error) {
	passed := passedSet(state.Executed)

	if rememberSignal.MatchString(task) && !passed[eyes.Memory] {
		if h.guard.Allowed(eyes.Memory, state.Executed).Allowed {
			return h.decide(eyes.Memory, "task carries a remember directive"), nil
		}
	}

	flow, flowName := proseFlow, "prose"
	if codeSignals.MatchString(task) {
		flow, flowName = codeFlow, "code"
	}

	for _, eye := range flow {
		if passed[eye] {
			continue
		}
		if !h.guard.Allowed(eye, state.Executed).Allowed {
			continue
		}
		reason := fmt.Sprintf("%s flow: %s is the first stage without a passing run", flowName, eye)
		return h.decide(eye, reason), nil
	}

	return Decision{}, ErrExhausted
}

func (h *Heuristic) decide(eye eyes.ID, reason string) Decision {
	metrics.RouterDecisions.WithLabelValues(h.Name(), string(eye)).Inc()
	h.logger.Debug("Routing decision",
		zap.String("router", h.Name()),
		zap.String("eye", string(eye)),
		zap.String("reason", reason))
	return Decision{Eye: eye, Reasoning: reason}
}
